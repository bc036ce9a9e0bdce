package adaptor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/tidwall/gjson"
)

// Fingerprint computes the deterministic SHA-256 digest over the
// cache-relevant parts of a request: joined system text, tool definitions
// sorted by name, and the message list. cache_control markers are stripped
// before hashing so requests that differ only in marker placement collide.
func Fingerprint(anthropicReq *anthropic.MessageNewParams) (string, error) {
	tools, err := canonicalList(anthropicReq.Tools)
	if err != nil {
		return "", err
	}
	sort.SliceStable(tools, func(i, j int) bool {
		return toolName(tools[i]) < toolName(tools[j])
	})

	messages, err := canonicalList(anthropicReq.Messages)
	if err != nil {
		return "", err
	}

	canonical := map[string]interface{}{
		"system":   ConvertTextBlocksToString(anthropicReq.System),
		"tools":    tools,
		"messages": messages,
	}

	// encoding/json emits map keys sorted, which makes the serialization
	// stable across processes.
	buf, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalList round-trips v through JSON into generic containers with
// volatile fields removed.
func canonicalList(v interface{}) ([]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var decoded []interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	for i, item := range decoded {
		decoded[i] = stripVolatile(item)
	}
	return decoded, nil
}

func stripVolatile(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		for key, sub := range vv {
			if key == "cache_control" {
				delete(vv, key)
				continue
			}
			vv[key] = stripVolatile(sub)
		}
		return vv
	case []interface{}:
		for i, sub := range vv {
			vv[i] = stripVolatile(sub)
		}
		return vv
	default:
		return v
	}
}

func toolName(v interface{}) string {
	if m, ok := v.(map[string]interface{}); ok {
		if s, ok := m["name"].(string); ok {
			return s
		}
	}
	return ""
}

// CacheSegment is one cache_control-marked span of the request.
type CacheSegment struct {
	Path   string `json:"path"`
	Bytes  int    `json:"bytes"`
	Tokens int    `json:"tokens"`
}

// CacheInfo summarizes the ephemeral cache markers found in a request.
type CacheInfo struct {
	Segments        []CacheSegment `json:"segments,omitempty"`
	TotalBytes      int            `json:"total_bytes"`
	EstimatedTokens int            `json:"estimated_tokens"`
}

// Eligible reports whether the request carried at least one cache marker.
func (ci CacheInfo) Eligible() bool {
	return len(ci.Segments) > 0
}

// ExtractCacheInfo scans a raw Messages request body for ephemeral
// cache_control markers on system blocks, message content blocks and tool
// definitions. Token estimates use the flat 4 chars/token heuristic.
func ExtractCacheInfo(raw []byte) CacheInfo {
	var info CacheInfo
	root := gjson.ParseBytes(raw)

	add := func(path string, block gjson.Result) {
		n := segmentBytes(block)
		info.Segments = append(info.Segments, CacheSegment{
			Path:   path,
			Bytes:  n,
			Tokens: n / 4,
		})
		info.TotalBytes += n
		info.EstimatedTokens += n / 4
	}

	si := 0
	root.Get("system").ForEach(func(_, block gjson.Result) bool {
		if isEphemeral(block) {
			add(fmt.Sprintf("system.%d", si), block)
		}
		si++
		return true
	})

	mi := 0
	root.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		bi := 0
		msg.Get("content").ForEach(func(_, block gjson.Result) bool {
			if isEphemeral(block) {
				add(fmt.Sprintf("messages.%d.content.%d", mi, bi), block)
			}
			bi++
			return true
		})
		mi++
		return true
	})

	ti := 0
	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
		if isEphemeral(tool) {
			add(fmt.Sprintf("tools.%d", ti), tool)
		}
		ti++
		return true
	})

	return info
}

func isEphemeral(block gjson.Result) bool {
	return block.Get("cache_control.type").String() == "ephemeral"
}

// segmentBytes measures the cached span: the text payload when present,
// otherwise the whole serialized block.
func segmentBytes(block gjson.Result) int {
	if text := block.Get("text"); text.Exists() {
		return len(text.String())
	}
	return len(block.Raw)
}

package adaptor

// schemaFieldTransforms defines JSON Schema fields that should be renamed or
// excluded before a schema is handed to an OpenAI-compatible backend.
// key: source field name
// value: target field name (empty string means exclude the field)
var schemaFieldTransforms = map[string]string{
	"$schema":          "",        // draft URI, rejected by grammar-based engines
	"exclusiveMinimum": "minimum", // convert exclusiveMinimum to minimum
	"exclusiveMaximum": "maximum", // convert exclusiveMaximum to maximum
}

// AdaptToolSchema rewrites a tool input_schema for OpenAI-compatible
// backends: transformed fields are renamed or stripped, `additionalProperties:
// false` is dropped, type arrays collapse to their first non-null entry, and
// a root-level oneOf is folded into anyOf. The input map is not modified.
func AdaptToolSchema(schema map[string]interface{}) map[string]interface{} {
	adapted := adaptSchema(schema)
	if adapted == nil {
		return nil
	}
	if oneOf, ok := adapted["oneOf"]; ok {
		if existing, ok := adapted["anyOf"].([]interface{}); ok {
			if extra, ok := oneOf.([]interface{}); ok {
				adapted["anyOf"] = append(existing, extra...)
			}
		} else {
			adapted["anyOf"] = oneOf
		}
		delete(adapted, "oneOf")
	}
	return adapted
}

// adaptSchema recursively applies the field transforms to one schema object.
func adaptSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}

	result := make(map[string]interface{}, len(schema))
	for key, value := range schema {
		if targetKey, needsTransform := schemaFieldTransforms[key]; needsTransform {
			if targetKey == "" {
				continue
			}
			key = targetKey
		}

		switch key {
		case "additionalProperties":
			// false trips strict decoders; schema-valued forms recurse.
			if b, isBool := value.(bool); isBool {
				if b {
					result[key] = value
				}
				continue
			}
			result[key] = adaptSchemaValue(value)
		case "type":
			result[key] = collapseTypeArray(value)
		case "properties", "patternProperties", "$defs", "definitions":
			result[key] = adaptSchemaMap(value)
		case "items", "additionalItems", "contains", "not":
			result[key] = adaptSchemaValue(value)
		case "anyOf", "allOf", "oneOf":
			result[key] = adaptSchemaList(value)
		default:
			result[key] = value
		}
	}
	return result
}

// adaptSchemaMap handles containers whose values are schemas keyed by name.
func adaptSchemaMap(value interface{}) interface{} {
	m, ok := value.(map[string]interface{})
	if !ok {
		return value
	}
	result := make(map[string]interface{}, len(m))
	for name, sub := range m {
		result[name] = adaptSchemaValue(sub)
	}
	return result
}

// adaptSchemaList handles anyOf/allOf/oneOf style schema arrays.
func adaptSchemaList(value interface{}) interface{} {
	list, ok := value.([]interface{})
	if !ok {
		return value
	}
	result := make([]interface{}, len(list))
	for i, sub := range list {
		result[i] = adaptSchemaValue(sub)
	}
	return result
}

// adaptSchemaValue recurses into a value that may be a schema or a list of
// schemas, passing anything else through.
func adaptSchemaValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return adaptSchema(v)
	case []interface{}:
		return adaptSchemaList(v)
	default:
		return value
	}
}

// collapseTypeArray reduces ["string","null"] style type unions to their
// first non-null entry; plain string types pass through.
func collapseTypeArray(value interface{}) interface{} {
	arr, ok := value.([]interface{})
	if !ok {
		return value
	}
	for _, t := range arr {
		if s, isString := t.(string); isString && s != "null" {
			return s
		}
	}
	if len(arr) > 0 {
		return arr[0]
	}
	return value
}

package framework

import "encoding/json"

// RawParser passes the body through untouched.
func RawParser(raw []byte) (interface{}, error) {
	return raw, nil
}

// JSONParser decodes the body into a generic map.
func JSONParser(raw []byte) (interface{}, error) {
	var v map[string]interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// TextParser decodes the body as a string.
func TextParser(raw []byte) (interface{}, error) {
	return string(raw), nil
}

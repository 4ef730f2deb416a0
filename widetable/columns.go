package widetable

import "encoding/base64"

// binaryColumns names columns whose Go value is []byte. encoding/json
// marshals a []byte value as a base64 string, and unmarshaling that same
// JSON into map[string]interface{} (as every JSON-backed Table does for
// its Columns bag) yields a plain string back, never []byte. Both
// PostgresStore and BoltStore route Columns through JSON, so both call
// restoreBinaryColumns after decoding a row to undo that string coercion
// for the columns callers are known to write as raw bytes.
var binaryColumns = map[string]struct{}{
	"payloadData":    {},
	"data":           {},
	"checkpointData": {},
}

// restoreBinaryColumns decodes any binaryColumns entry that came back as
// a base64 string after a JSON round trip into []byte, in place.
func restoreBinaryColumns(columns map[string]interface{}) {
	for name := range binaryColumns {
		v, ok := columns[name]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			continue
		}
		columns[name] = decoded
	}
}

package projectionstatus

import (
	"encoding/json"

	"evtcore.dev/common"
	"evtcore.dev/widetable"
)

var codecLog = common.NewContextLogger(common.Logger, map[string]interface{}{"component": "projectionstatus.codec"})

func encodeRecord(rec Record) widetable.Row {
	body, err := json.Marshal(rec)
	if err != nil {
		codecLog.WithField("error", err).Error("marshaling projection status record")
		body = []byte(`{}`)
	}
	return widetable.Row{
		PartitionKey: rec.ProjectionName,
		RowKey:       rec.ObjectID,
		Columns: map[string]interface{}{
			"status": string(rec.Status),
			"body":   string(body),
		},
	}
}

func decodeRecord(row widetable.Row) Record {
	raw, _ := row.Columns["body"].(string)
	var rec Record
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &rec)
	}
	rec.version = row.ETag
	return rec
}

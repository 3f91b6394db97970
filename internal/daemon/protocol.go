package daemon

import (
	"encoding/json"

	"github.com/patrickjm/imgscout/internal/record"
	"github.com/patrickjm/imgscout/internal/scraper"
)

type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RespError      `json:"error,omitempty"`
}

type RespError struct {
	Message string `json:"message"`
}

type SearchParams struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

type MoreParams struct {
	Count int `json:"count"`
}

// CollectResult carries the records produced by one Search or More call.
type CollectResult struct {
	Status  scraper.Status  `json:"status"`
	Records []record.Record `json:"records"`
}

type StatusResult struct {
	PID int `json:"pid"`
	// Busy is set while a Search or More request is running.
	Busy bool `json:"busy"`
	scraper.Status
}

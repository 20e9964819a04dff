package record

import (
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/livinlefevreloca/collector/internal/timefmt"
)

// Record is a single sample returned by the data API
type Record struct {
	ServiceDate string `json:"tfservicedtime"` // YYYYMMDD
	Timestamp   string `json:"timestamp"`      // canonical or legacy datetime
	Value       int    `json:"value"`
	Status      Status `json:"status"`
	ID          string `json:"id"`
}

// Time parses the record timestamp in the local zone
func (r Record) Time() (time.Time, error) {
	return timefmt.Parse(r.Timestamp)
}

// Validate checks the record field formats
func (r Record) Validate() error {
	if r.ID == "" {
		return errors.New("record: id must not be empty")
	}
	if _, err := timefmt.ParseDate(r.ServiceDate); err != nil {
		return fmt.Errorf("record %s: tfservicedtime: %w", r.ID, err)
	}
	if _, err := r.Time(); err != nil {
		return fmt.Errorf("record %s: timestamp: %w", r.ID, err)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("record %s: invalid status", r.ID)
	}
	return nil
}

// Window identifies one collection request by its start time
type Window struct {
	Start       time.Time
	RequestedAt time.Time
}

// StartString renders the window start in the canonical wire layout
func (w Window) StartString() string {
	return timefmt.Format(w.Start)
}

// Batch is the set of records retrieved and persisted together in one cycle
type Batch struct {
	StartTime      string
	CollectionTime time.Time
	Records        []Record
}

// RecordCount is always len(Records)
func (b Batch) RecordCount() int {
	return len(b.Records)
}

// batchDocument is the on-disk representation of a batch
type batchDocument struct {
	StartTime      string    `json:"startTime"`
	CollectionTime time.Time `json:"collectionTime"`
	DataCnt        int       `json:"dataCnt"`
	Data           []Record  `json:"data"`
}

// MarshalJSON writes the persisted-file form of the batch
func (b Batch) MarshalJSON() ([]byte, error) {
	data := b.Records
	if data == nil {
		data = []Record{}
	}
	return json.Marshal(batchDocument{
		StartTime:      b.StartTime,
		CollectionTime: b.CollectionTime,
		DataCnt:        len(data),
		Data:           data,
	})
}

// UnmarshalJSON reads the persisted-file form and rejects count mismatches
func (b *Batch) UnmarshalJSON(data []byte) error {
	var doc batchDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.DataCnt != len(doc.Data) {
		return fmt.Errorf("record: batch dataCnt %d does not match %d records", doc.DataCnt, len(doc.Data))
	}

	b.StartTime = doc.StartTime
	b.CollectionTime = doc.CollectionTime
	b.Records = doc.Data
	return nil
}

// DataRequest is the body of POST /api/data
type DataRequest struct {
	StartTime string    `json:"startTime"`
	LimitYn   LimitFlag `json:"limitYn"`
}

// DataResponse is the envelope returned by POST /api/data
type DataResponse struct {
	StartTime string       `json:"startTime"`
	ResCode   ResponseCode `json:"res_code"`
	ResMsg    string       `json:"res_msg"`
	DataCnt   int          `json:"dataCnt"`
	Data      []Record     `json:"data"`
}

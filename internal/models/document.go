package models

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending      Status = "pending"
	StatusProcessing   Status = "processing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusReprocessing Status = "reprocessing"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// EquipmentItem is one line of the equipment block of a document.
type EquipmentItem struct {
	Name        string `json:"name"`
	IMEI        string `json:"imei,omitempty"`
	AssetNumber string `json:"asset_number,omitempty"`
}

// Fields is the structured payload extracted from a document. Populated
// only when processing succeeds.
type Fields struct {
	Name           string          `json:"name,omitempty"`
	RegistrationID string          `json:"registration_id,omitempty"`
	Role           string          `json:"role,omitempty"`
	Employer       string          `json:"employer,omitempty"`
	RG             string          `json:"rg,omitempty"`
	CPF            string          `json:"cpf,omitempty"`
	DocumentDate   string          `json:"document_date,omitempty"`
	Equipment      []EquipmentItem `json:"equipment,omitempty"`
	IMEINumbers    []string        `json:"imei_numbers,omitempty"`
	AssetNumbers   []string        `json:"asset_numbers,omitempty"`
}

// Empty reports whether no field was extracted at all.
func (f *Fields) Empty() bool {
	if f == nil {
		return true
	}
	return f.Name == "" && f.RegistrationID == "" && f.Role == "" &&
		f.Employer == "" && f.RG == "" && f.CPF == "" && f.DocumentDate == "" &&
		len(f.Equipment) == 0 && len(f.IMEINumbers) == 0 && len(f.AssetNumbers) == 0
}

// Document is the task record for one submitted file. The record status and
// the staging area holding the file must agree outside the bounded
// relocation window; the folder monitor repairs any drift.
type Document struct {
	ID             int64      `db:"id"`
	OriginalName   string     `db:"original_name"`
	StoredName     string     `db:"stored_name"`
	Status         Status     `db:"status"`
	Retries        int        `db:"retries"`
	ExtractedText  string     `db:"extracted_text"`
	Fields         *Fields    `db:"fields_json"`
	StorageRef     *string    `db:"storage_ref"`
	FailureReason  *string    `db:"failure_reason"`
	LastEnqueuedAt *time.Time `db:"last_enqueued_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// Downloadable reports whether the stored file may be served to a client.
func (d *Document) Downloadable() bool {
	return d.Status == StatusCompleted
}

func (d *Document) FieldsJSON() (json.RawMessage, error) {
	if d.Fields == nil {
		return nil, nil
	}
	return json.Marshal(d.Fields)
}

package models

import "time"

// ExportFormat enumerates the digest export formats.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// DigestEntry is one subscription listed in the digest.
type DigestEntry struct {
	GUID    string  `json:"guid"`
	Course  string  `json:"course"`
	Lab     string  `json:"lab"`
	Current Detail  `json:"current"`
	Before  *Detail `json:"before,omitempty"`
}

// Digest summarises activity between two watermarks.
type Digest struct {
	From    time.Time     `json:"from"`
	To      time.Time     `json:"to"`
	New     []DigestEntry `json:"new"`
	Updated []DigestEntry `json:"updated"`
	Notices []SentNotice  `json:"notices"`
}

// Empty reports whether nothing happened in the window.
func (d Digest) Empty() bool {
	return len(d.New) == 0 && len(d.Updated) == 0 && len(d.Notices) == 0
}

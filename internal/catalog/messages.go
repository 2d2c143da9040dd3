package catalog

import "time"

// The composite types sent to the ClickHouse catalog.

// ActivityMessage is the information for the activity table: one row per program run.
type ActivityMessage struct {
	ID        string
	Program   string
	Hostname  string
	Version   string
	GoVersion string
	CPUs      int
	Start     time.Time
	End       time.Time
}

// RunMessage is the information for the recordings table. It is sent again with End set
// when the recording finishes.
type RunMessage struct {
	ID          string
	Prefix      string
	ListenAddr  string
	QuotaPolicy string
	Quota       int
	MaxFiles    int
	Threshold   float64
	EventLimit  int
	MaskedBins  int
	BoardInfo   string
	Start       time.Time
	End         time.Time
}

// FileMessage is the information for the files table.
type FileMessage struct {
	RunID    string
	Filename string
	Number   int
	Packets  int
	Spectra  int
	Size     int64
	SHA256   string
	Start    time.Time
	End      time.Time
}

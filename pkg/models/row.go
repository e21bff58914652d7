package models

// Row is one header-mapped record of a tabular file.
type Row map[string]string

// StoreRecord is a validated destination row. Coordinates stay in their
// textual form until they are written.
type StoreRecord struct {
	StoreName    string `json:"storeName" validate:"required,max=255"`
	StoreAddress string `json:"storeAddress" validate:"max=512"`
	CityName     string `json:"cityName" validate:"max=255"`
	RegionName   string `json:"regionName" validate:"max=255"`
	RetailerName string `json:"retailerName" validate:"max=255"`
	StoreType    string `json:"storeType" validate:"max=100"`
	Longitude    string `json:"storeLongitude" validate:"omitempty,longitude"`
	Latitude     string `json:"storeLatitude" validate:"omitempty,latitude"`
}

// RowResult is the outcome of validating one row of a chunk. Exactly one of
// Record and Err is set.
type RowResult struct {
	RowNumber int
	Raw       Row
	Record    *StoreRecord
	Err       string
}

// ChunkBatch is everything needed to commit one chunk's rows.
type ChunkBatch struct {
	Key      ChunkKey
	RowCount int
	Rows     []RowResult
}

// ChunkTally reports what a chunk commit did. Applied is false when the chunk
// had already reached a terminal status and nothing was written.
type ChunkTally struct {
	Applied       bool
	ProcessedRows int
	ErrorCount    int
	// Upload-wide counters after the increment.
	UploadProcessedRows int64
	UploadErrorCount    int64
}

package models

// DocumentResult is produced once per scanned results-table row. It is
// immutable after creation: failures are reported as data, never as a
// propagated error, so the batch can keep going.
type DocumentResult struct {
	// Tipologia is the free-text document type as rendered by the portal
	// (e.g. "REFERTO SPECIALISTICO"). "N/A" when navigation failed before
	// the table could be read.
	Tipologia string

	// Skipped is true when a filter excluded the row before download.
	Skipped bool

	// DownloadPath is the temporary location of the captured file.
	// Empty when the row was skipped or the download failed.
	DownloadPath string

	// Err is the failure text for a row that was attempted but could not
	// be downloaded. Empty on success and on skip.
	Err string
}

// Downloaded reports whether the row produced a usable file.
func (r DocumentResult) Downloaded() bool {
	return !r.Skipped && r.Err == "" && r.DownloadPath != ""
}

// RowRecord is the transient scan-phase snapshot of a results-table row.
// Reading every cell up front keeps filtering and download ordering
// independent of live page state.
type RowRecord struct {
	Index     int // position among data rows, top to bottom
	Date      string
	Tipologia string
	Ente      string
}

// TableSchema holds the column indices resolved from the results-table
// header. A value of -1 means the column was not found; only the document
// type column is mandatory.
type TableSchema struct {
	DateCol   int
	TypeCol   int
	EnteCol   int
	ActionCol int
}

// ConnectionTarget describes how to reach (or start) the browser that will
// host the automation session. Derived once per session start.
type ConnectionTarget struct {
	// Port is the remote-debugging port the session will probe.
	Port int

	// ProcessName is the browser's process image name (e.g. "msedge.exe"),
	// used for crash recovery even when the session is launched fresh.
	ProcessName string

	// ExecutablePath is empty when no installed browser could be resolved;
	// the caller then falls back to the bundled engine or fails.
	ExecutablePath string

	// AppID identifies the originating registration (ProgID or channel).
	AppID string
}

// EmailRecord is one notification mail, as supplied by the mailbox
// collaborator. Each record is consumed exactly once per run.
type EmailRecord struct {
	UID           uint32
	PatientName   string
	FSELink       string
	CodiceFiscale string
	RawSubject    string
}

// Summary is the end-of-run accounting shown to the operator and written
// next to the logs.
type Summary struct {
	EmailsFound    int
	EmailsOK       int
	EmailsSkipped  int
	DocsDownloaded int
	DocsSkipped    int
	DocsFailed     int
	DocsRenamed    int
	Interrupted    bool
}

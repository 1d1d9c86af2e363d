package copyjob

// Checkpoint is the durable per-job progress record (spec §3, §4.4).
type Checkpoint struct {
	JobID           ID
	EntryIndex      int64
	EntryOffset     int64 // byte offset within the in-progress entry, chunk-aligned
	Cursor          string
	ImmutableDigest string
}

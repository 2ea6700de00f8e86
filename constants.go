package sos

// Source file geometry - fixed for this tool's input format
const (
	// PageSize is the size of every page in the source file (4KB)
	PageSize = 4096

	// ReserveSize is the trailing reserved region holding the checksum
	ReserveSize = 8

	// UsableSize is the per-page space available to the btree
	UsableSize = PageSize - ReserveSize

	// DefaultEnginePageSize is the engine's compiled-in default page size.
	// Page 1 must stay verifiable at this size before the engine has
	// parsed the real page size out of the header.
	DefaultEnginePageSize = 512
)

// Page flag bytes
const (
	// FlagInteriorIndex marks an index interior b-tree page
	FlagInteriorIndex = 0x02

	// FlagLeafIndex marks an index leaf b-tree page
	FlagLeafIndex = 0x0a
)

// Page header sizes
const (
	// LeafHeaderSize is the header size of a leaf page (8 bytes)
	LeafHeaderSize = 8

	// InteriorHeaderSize is the header size of an interior page; the
	// extra 4 bytes hold the right-most child pointer
	InteriorHeaderSize = 12
)

// ChecksumSeed is the second seed word fed to the page hash; the first
// seed word is the page number.
const ChecksumSeed uint32 = 0x5ca1ab1e

// Pager operation codes, as the engine passes them to the codec hook.
const (
	// PagerOpRead is a page read (checksum is verified)
	PagerOpRead = 3

	// PagerOpWriteDB is a database page write (checksum is embedded)
	PagerOpWriteDB = 6

	// PagerOpWriteJournal is a journal page write (checksum is embedded)
	PagerOpWriteJournal = 7
)

// CheckpointMode selects the WAL checkpoint variant.
type CheckpointMode int

const (
	// CheckpointFull waits for readers and flushes the whole WAL
	CheckpointFull CheckpointMode = 1

	// CheckpointRestart additionally restarts the WAL from its start
	CheckpointRestart CheckpointMode = 2
)

// Template database layout
const (
	// TemplateRootPage is the root page of the empty index in the
	// prepared template database that receives salvaged keys
	TemplateRootPage = 3
)

// Restore driver defaults
const (
	// DefaultPagesPerTxn is the batch threshold: a write transaction is
	// committed once it holds more than this many decoded source pages
	DefaultPagesPerTxn = 1024

	// DefaultTxnsPerCheckpoint is the checkpoint threshold: a full WAL
	// checkpoint runs once more than this many transactions have
	// committed since the last one
	DefaultTxnsPerCheckpoint = 10
)

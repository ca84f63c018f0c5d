package sasquatch

const (
	superblockSize = 96

	metadataBlockSize = 8192
	metaHeaderSize    = 2
	metaRawFlag       = 0x8000
	metaSizeMask      = 0x7fff

	dataRawFlag  = 1 << 24
	dataSizeMask = 0x00ffffff

	minBlockSize = 4096
	maxBlockSize = 1024 * 1024

	// tableAbsent marks an optional table (xattr, fragment, export) that is
	// not present in the image.
	tableAbsent = 0xffffffffffffffff

	noFragment = 0xffffffff
	noXattr    = 0xffffffff

	inodeHeaderSize = 16
	dirHeaderSize   = 12
	dirEntrySize    = 8
	maxDirEntries   = 256
	maxNameLength   = 256

	fragmentEntrySize = 16
	idEntrySize       = 4
	exportEntrySize   = 8
	xattrIDEntrySize  = 16

	// MaxDepth bounds directory recursion so crafted images cannot exhaust
	// the stack.
	MaxDepth = 1000

	readBuffer          = 1000 * 1000 * 1 //MiB
	writeBuffer         = readBuffer
	defaultRootSuffix   = "-root"
	defaultFragCache    = 64
	defaultChecksumName = "blake3"
)

// Superblock flags
const (
	fUncompressedInodes SuperFlags = 1 << iota
	fUncompressedData
	fCheck
	fUncompressedFragments
	fNoFragments
	fAlwaysFragments
	fDuplicates
	fExportable
	fUncompressedXattrs
	fNoXattrs
	fCompressorOptions
	fUncompressedIDs

	fTop //Do not use, move or delete
)

var (
	flagNames = []string{"Uncompressed Inodes", "Uncompressed Data", "Check", "Uncompressed Fragments", "No Fragments", "Always Fragments", "Duplicates", "Exportable", "Uncompressed Xattrs", "No Xattrs", "Compressor Options", "Uncompressed IDs", "Unknown"}
)

// Table kinds, used as the first half of the metadata cache key.
const (
	tableInode uint8 = iota
	tableDirectory
	tableFragment
	tableExport
	tableID
	tableXattr
	tableOptions
)

// Checksum types
const (
	sumCRC32 uint8 = iota
	sumCRC16
	sumXXHash
	sumSHA256
	sumBlake3
)

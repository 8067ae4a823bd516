package domain

const (
	// Gateway constants
	DEFAULT_IPFS_GATEWAY    = "https://ipfs.io"
	DEFAULT_ARWEAVE_GATEWAY = "https://arweave.net"

	// Blockchain constants
	ETHEREUM_ZERO_ADDRESS = "0x0000000000000000000000000000000000000000"

	// Display fallbacks for content without a name
	DEFAULT_ITEM_NAME = "Unnamed NFT"

	// Gallery filter modes
	GalleryModeAll  = "all"
	GalleryModeMine = "mine"
)

package config

const (
	// DefaultDatabasePath is the default path for the main application database
	DefaultDatabasePath = "./bookshop.db"

	// DefaultStorageDir is where the disk object store keeps covers and book files
	DefaultStorageDir = "./data/objects"

	// DefaultCurrency is used for book prices when none is given
	DefaultCurrency = "USD"
)

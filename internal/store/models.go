package store

import "time"

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// File is a logical named string catalog owned by exactly one user. Content
// always mirrors the highest-numbered version in file_versions.
type File struct {
	ID          string
	OwnerID     string
	Name        string
	Content     string
	ContentHash string
	SizeBytes   int64
	IsPublic    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FileMeta is the content-free projection used by listings.
type FileMeta struct {
	ID        string
	OwnerID   string
	OwnerName string
	Name      string
	SizeBytes int64
	IsPublic  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FileVersion is an immutable numbered snapshot of a file's content.
type FileVersion struct {
	ID            int64
	FileID        string
	VersionNumber int
	Content       string
	ContentHash   string
	SizeBytes     int64
	Comment       string
	CreatedBy     string
	CreatedAt     time.Time
	// Joined field for API responses
	CreatedByName string
}

type FileShare struct {
	ID        string
	FileID    string
	GranteeID string
	CanEdit   bool
	CreatedAt time.Time
	UpdatedAt time.Time
	// Joined fields for API responses
	GranteeName  string
	GranteeEmail string
}

type VersionStats struct {
	TotalVersions   int
	FirstCreatedAt  *time.Time
	LastCreatedAt   *time.Time
	TotalBytes      int64
	DistinctAuthors int
}

// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Face matching constants
const (
	// DefaultTolerance is the customary maximum euclidean distance for a face match.
	// Lower values = stricter matching
	DefaultTolerance = 0.6
)

// Attendance policy constants
const (
	// DefaultMinimumWorkDuration is the minimum time after check-in before a checkout is proposed
	DefaultMinimumWorkDuration = time.Hour

	// DefaultConfirmationTimeout is how long a pending confirmation stays valid
	DefaultConfirmationTimeout = 5 * time.Minute

	// DefaultCooldownWindow is the minimum time between two accepted detections of one identity
	DefaultCooldownWindow = 30 * time.Second
)

// Sync constants
const (
	// DefaultSyncInterval is the period of the background pull/push/export cycle
	DefaultSyncInterval = 5 * time.Minute

	// DefaultRequestTimeout bounds every call to the remote authority
	DefaultRequestTimeout = 10 * time.Second

	// DefaultExportBatchSize is the maximum number of attendance rows exported per cycle
	DefaultExportBatchSize = 200

	// SourceSystem identifies this terminal software in exported attendance rows
	SourceSystem = "face_recognition"
)

// Processing constants
const (
	// WorkerPoolSize is the default number of parallel workers for CLI batch operations
	WorkerPoolSize = 4

	// MaxImageSize is the maximum dimension (width or height) sent to the extraction service
	MaxImageSize = 1280

	// MaxUploadBytes caps image uploads on the operator API
	MaxUploadBytes = 16 << 20
)

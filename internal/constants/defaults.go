package constants

import "time"

// Key material.
const (
	// RSAKeyBits is the only supported key size.
	RSAKeyBits = 2048

	// ValidityDays applies to authorities, keystore key pairs and signed leaves.
	ValidityDays = 365

	// MinPassphraseLength is the JKS minimum for store and key passwords.
	MinPassphraseLength = 6
)

// File suffixes.
const (
	KeySuffix        = ".key"
	CertSuffix       = ".crt"
	SerialSuffix     = ".srl"
	RequestSuffix    = ".csr"
	SignedSuffix     = ".crt_signed"
	KeystoreSuffix   = ".jks"
	StagingSuffix    = ".partial"
	LockSuffix       = ".lock"
	AuthorityPrefix  = "rootCa"
	AuthoritySepChar = "-"
)

// Lock acquisition.
const (
	// DefaultLockAttempts bounds how often a contended file lock is retried.
	DefaultLockAttempts = 50

	// DefaultLockBackoff is the first backoff between lock attempts.
	DefaultLockBackoff = 20 * time.Millisecond

	// DefaultLockMaxBackoff caps the backoff between lock attempts.
	DefaultLockMaxBackoff = 1 * time.Second
)

// DefaultParallelism processes targets one at a time.
const DefaultParallelism = 1

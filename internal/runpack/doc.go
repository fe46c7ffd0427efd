// Package runpack builds and verifies runpacks: offline-verifiable
// bundles of a run's scenario spec, run state and decision history.
//
// Every artifact is written as canonical JSON and hashed with SHA-256.
// The manifest lists each artifact with its hash and carries a root hash
// computed over the canonical manifest itself (with the root hash field
// zeroed), so tampering with either an artifact or the manifest is
// detected by Verify without access to providers, stores or dispatchers.
//
// Artifacts are written through an ArtifactSink and read back through an
// ArtifactReader. DirStore keeps a runpack in a local directory, S3Store
// in an S3 bucket under a key prefix, and MemoryStore in memory.
package runpack

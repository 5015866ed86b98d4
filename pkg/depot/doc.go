// Package depot defines the storage contract shared by every file storage
// backend, the file and payload model, and the registry of named stores.
//
// Applications save and retrieve files through the Storage interface without
// knowing where the bytes live. Driver packages (local, memory, s3, gcs,
// gridfs, badger) register themselves under a backend name and are built from
// plain option maps, so the backend of a deployment is a configuration
// detail:
//
//	store, err := depot.Configure(ctx, "avatars", map[string]any{
//		"backend": "local",
//		"root":    "/var/lib/depot",
//	})
//
// Stored files are addressed as "store/file_id" anywhere a registry path is
// accepted, which is also the path the serving layer exposes over HTTP.
package depot

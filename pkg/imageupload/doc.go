// Package imageupload provides the shared domain types for signed, direct
// image uploads to a Cloudinary-style media hosting service.
//
// The flow has two collaborating pieces. A signature service (see the signer
// subpackage) proves that a set of upload parameters was authorized by the
// holder of a shared secret. An upload orchestrator (see the uploader
// subpackage) validates a selected file, obtains a signature for the
// parameters that will accompany it, and transfers the file directly to the
// hosting endpoint while reporting progress.
//
// Storage, transformation and durability are delegated to the hosting
// service. The mediahost subpackage implements a local, API-compatible stand-in
// for development and end-to-end tests.
package imageupload

// Package results stores job result artifacts.
//
// Artifacts are keyed job-results/<job_id>.<ext>, where the extension
// follows the content type (csv for enrollment exports, json for
// reports). Two backends implement the Store contract: a local
// filesystem store for development and an S3 store for production. The
// S3 store additionally implements URLSigner, handing out presigned
// GET URLs so result downloads bypass the API server.
package results

// Package entities defines the GORM models for scans and their comment threads.
//
// Schema:
//   - scans: one row per uploaded image; unique on scan_id and on
//     (patient_id, content_digest); three nullable blob columns
//   - scan_comments: self-referential parent pointer, foreign key to scans.scan_id
package entities

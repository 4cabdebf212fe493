// Package repository provides the scan and comment repositories over the
// datastore entities. Repositories return sentinel errors from this package
// and never leak gorm.ErrRecordNotFound.
package repository

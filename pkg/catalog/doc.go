// Package catalog serves books, tags and the bindings between them.
//
// New books start AVAILABLE. Their status afterwards changes through the
// rental flow in pkg/rental, or by an admin edit. A (book, tag) pair may be
// bound only once. Deleting a book deletes its rent records, reviews and tag
// bindings in the same transaction.
package catalog

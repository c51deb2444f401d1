// Package reviews serves book reviews.
//
// A user earns one review for every COMPLETED rental of a book. Creating a
// review counts both sides and rejects with an unprocessable error when the
// user has no completed rental left uncovered. Rentals that ended UNPAID do
// not count until an admin settles them.
//
// Any authenticated user may read, create and edit reviews; deleting one
// needs a DELETE role permission or admin.
package reviews

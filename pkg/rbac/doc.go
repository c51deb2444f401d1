// Package rbac decides who may do what in the rental back office.
//
// # Model
//
// Users hold roles through user role bindings; roles hold permissions through
// role permission bindings. A permission carries one action:
//
//	CREATE     create records
//	READ_ALL   list every record (and lifts collection scoping)
//	UPDATE     update records, return books
//	DELETE     delete records
//	ALL        wildcard, matches any operation
//
// A user's actions are the union over all bound roles (Store.PermissionActionsFor).
//
// # Decisions
//
// Each resource type has a Policy: an ordered list of Statements. A statement
// names the operations it covers, whether anonymous principals are included,
// its effect and an optional Condition. The Engine walks the list top to bottom;
// the first statement that matches and whose condition holds decides. If none
// does, the request is denied.
//
// Operations map to actions as list→READ_ALL, create→CREATE,
// update/partial_update→UPDATE, destroy→DELETE. Any other operation (retrieve,
// return) is only granted by a role through ALL.
//
//	engine := rbac.NewEngine(resolver, metrics, recorder)
//	router.Handle("/books/list", engine.Guard(rbac.ResourceBook, rbac.OpList, h.ListBooks))
//
// Object-level rules (own account, own review) need the owner of the target and
// are checked by the handler with Engine.Authorize and Request.OwnerID.
//
// # Scoping
//
// Engine.ScopeFor returns the Scope of a principal after the access check has
// passed. Admins and READ_ALL/ALL holders are Unscoped; everyone else sees the
// rows they are referenced by. Rows outside the scope read as not found.
//
// # Caching
//
// CachedResolver keeps action sets in an expiring LRU and, when configured, in
// redis. With redis every cached set is stamped with a global and a per-user
// generation counter. Invalidation increments the counter, so every replica
// misses on its next lookup and a refill computed before the change lands under
// a key nobody reads. Without redis the in-process entries live until their TTL.
package rbac

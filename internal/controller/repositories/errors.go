package repositories

import "errors"

// ErrNotFound is returned by repository methods when the requested record
// does not exist. Callers match it with errors.Is at the HTTP boundary to
// decide between a 404 and a 500.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when an insert or update would violate a unique
// constraint — duplicate service name, duplicate (listen_port, protocol),
// duplicate (service_id, agent_id) assignment, duplicate blocklist IP,
// duplicate (port, protocol, interface) firewall rule.
var ErrConflict = errors.New("record already exists")

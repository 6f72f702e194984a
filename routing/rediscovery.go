package routing

import (
	"context"
	"strings"

	"github.com/cypherbolt/bolt-go/addr"
	"github.com/cypherbolt/bolt-go/internal/conn"

	boltErr "github.com/cypherbolt/bolt-go/errors"
)

// errNoTableFromRouter is a sentinel returned for network/transient
// rediscovery failures: the caller should try the next known router rather
// than surface the error, per the "any other (network/transient)" row of
// the rediscovery classification table. It is a package-level singleton so
// IsNoTableFromRouter can compare by identity.
var errNoTableFromRouter = boltErr.New(boltErr.CodeServiceUnavailable, "no routing table from this router")

// IsNoTableFromRouter reports whether err represents a per-router
// rediscovery failure that should be retried against the next known
// router, as opposed to a terminal error that should propagate to the
// caller (DatabaseNotFound, or a ProcedureNotFound "not a cluster" case).
func IsNoTableFromRouter(err error) bool {
	return err == errNoTableFromRouter
}

// routeMessageMinVersion is the lowest negotiated Bolt major version this
// driver treats as ROUTE-capable. Servers negotiating an older version are
// rediscovered via the legacy Cypher routing procedure instead.
const routeMessageMinVersion = 4

// DiscoverOverConnection rediscovers the routing table over an already-open
// connection, using the ROUTE message on servers new enough to support it
// and falling back to the dbms.cluster.routing.getRoutingTable (or, with a
// database name, dbms.routing.getRoutingTable) Cypher procedure otherwise,
// per spec.md §4.3. Both paths classify the server's response per the same
// rediscovery error table: DatabaseNotFound propagates unchanged,
// ProcedureNotFound-class failures become a "not a cluster" ServiceUnavailable,
// and every other failure collapses to the no-table-from-this-router
// sentinel so the balancer's refresh loop moves on to the next router.
func DiscoverOverConnection(ctx context.Context, c *conn.Connection, routingContext map[string]any, bookmarks []any, database string) (*Table, error) {
	if c.ProtocolVersion() >= routeMessageMinVersion {
		return discoverViaRoute(ctx, c, routingContext, bookmarks, database)
	}
	return discoverViaLegacyProcedure(ctx, c, routingContext, database)
}

func discoverViaRoute(ctx context.Context, c *conn.Connection, routingContext map[string]any, bookmarks []any, database string) (*Table, error) {
	type result struct {
		meta map[string]any
		err  error
	}
	done := make(chan result, 1)

	obs := conn.RunObserver{
		Completed: func(meta map[string]any) { done <- result{meta: meta} },
		Failed:    func(err error) { done <- result{err: err} },
	}

	if err := c.Route(routingContext, bookmarks, database, obs); err != nil {
		return nil, err
	}
	if err := c.Flush(); err != nil {
		return nil, err
	}

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if res.err != nil {
		return nil, classifyRediscoveryError(res.err)
	}
	return parseRoutingTable(res.meta, false)
}

// discoverViaLegacyProcedure rediscovers the routing table the way a
// pre-ROUTE server expects: RUN the routing procedure as a plain Cypher
// query, PULL_ALL its single row, and parse (ttl, servers) positionally out
// of that row instead of out of a ROUTE response's 'rt' metadata field.
func discoverViaLegacyProcedure(ctx context.Context, c *conn.Connection, routingContext map[string]any, database string) (*Table, error) {
	query, params := legacyRoutingProcedureCall(routingContext, database)

	type result struct {
		record []any
		got    bool
		err    error
	}
	done := make(chan result, 1)
	var record []any
	var gotRecord bool

	if err := c.Run(query, params, nil, conn.RunObserver{
		Failed: func(err error) { done <- result{err: err} },
	}); err != nil {
		return nil, err
	}
	if err := c.PullAll(conn.RunObserver{
		Next: func(v any) {
			if fields, ok := v.([]any); ok {
				record = fields
				gotRecord = true
			}
		},
		Completed: func(map[string]any) { done <- result{record: record, got: gotRecord} },
		Failed:    func(err error) { done <- result{err: err} },
	}); err != nil {
		return nil, err
	}
	if err := c.Flush(); err != nil {
		return nil, err
	}

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if res.err != nil {
		return nil, classifyRediscoveryError(res.err)
	}
	if !res.got {
		return nil, boltErr.New(boltErr.CodeProtocolError, "legacy routing procedure returned no rows")
	}
	return parseLegacyRoutingRecord(res.record)
}

// legacyRoutingProcedureCall picks the procedure name per the server
// generation the spec describes: a caller-supplied database name implies a
// 4.0-4.2-era multi-database server (dbms.routing.getRoutingTable), its
// absence implies the older single-database 3.x procedure
// (dbms.cluster.routing.getRoutingTable).
func legacyRoutingProcedureCall(routingContext map[string]any, database string) (string, map[string]any) {
	if database != "" {
		return "CALL dbms.routing.getRoutingTable($context, $database)",
			map[string]any{"context": routingContext, "database": database}
	}
	return "CALL dbms.cluster.routing.getRoutingTable($context)",
		map[string]any{"context": routingContext}
}

// classifyRediscoveryError implements the rediscovery error classification
// table from the protocol spec.
func classifyRediscoveryError(err error) error {
	be := boltErr.Get(err)
	if be == nil {
		return errNoTableFromRouter
	}

	if be.Code() == boltErr.CodeDatabaseNotFound {
		return err // rethrow to caller verbatim
	}

	if strings.Contains(be.Error(), "ProcedureNotFound") {
		return boltErr.New(boltErr.CodeServiceUnavailable,
			"routing procedure not found on server: target is probably not a cluster member", err)
	}

	return errNoTableFromRouter
}

// parseRoutingTable parses a ROUTE response's 'rt' metadata field. Unknown
// server roles are ignored rather than rejected: ROUTE is only spoken by
// servers new enough to define an authoritative, possibly-extended role
// set, so an unrecognized role is forward compatibility, not corruption --
// the opposite assumption the stricter legacy procedure parse below makes.
func parseRoutingTable(meta map[string]any, strictRoles bool) (*Table, error) {
	rtRaw, ok := meta["rt"]
	if !ok {
		return nil, boltErr.New(boltErr.CodeProtocolError, "ROUTE response is missing the 'rt' field")
	}
	rt, ok := rtRaw.(map[string]any)
	if !ok {
		return nil, boltErr.Newf(boltErr.CodeProtocolError, "ROUTE response 'rt' field has unexpected type %T", rtRaw)
	}

	ttl, err := asInt64(rt["ttl"])
	if err != nil {
		ttl = -1 // absent/malformed TTL collapses to the never-expires sentinel, per spec
	}

	serversRaw, ok := rt["servers"].([]any)
	if !ok {
		return nil, boltErr.New(boltErr.CodeProtocolError, "ROUTE response 'servers' field has unexpected type")
	}

	return buildTableFromServers(ttl, serversRaw, strictRoles, "ROUTE response")
}

// parseLegacyRoutingRecord parses the single row returned by the legacy
// dbms(.cluster).routing.getRoutingTable procedure: a positional [ttl,
// servers] record rather than a ROUTE response's named 'rt' field. The
// procedure's role set is fixed and closed, so an unrecognized role here is
// a genuine protocol violation, unlike ROUTE's forward-compatible one.
func parseLegacyRoutingRecord(record []any) (*Table, error) {
	if len(record) < 2 {
		return nil, boltErr.New(boltErr.CodeProtocolError, "legacy routing procedure row has too few fields")
	}

	ttl, err := asInt64(record[0])
	if err != nil {
		ttl = -1
	}

	serversRaw, ok := record[1].([]any)
	if !ok {
		return nil, boltErr.Newf(boltErr.CodeProtocolError, "legacy routing procedure 'servers' field has unexpected type %T", record[1])
	}

	return buildTableFromServers(ttl, serversRaw, true, "legacy routing procedure response")
}

// buildTableFromServers is the role-bucketing logic shared by both
// rediscovery paths. strictRoles controls whether an unrecognized role is a
// hard ProtocolError (the legacy procedure's fixed, closed role set) or
// silently ignored (ROUTE's forward-compatible, possibly-extended one).
func buildTableFromServers(ttl int64, serversRaw []any, strictRoles bool, source string) (*Table, error) {
	var routers, readers, writers []addr.ServerAddress
	for _, srvRaw := range serversRaw {
		srv, ok := srvRaw.(map[string]any)
		if !ok {
			return nil, boltErr.Newf(boltErr.CodeProtocolError, "%s server entry has unexpected type", source)
		}
		role, _ := srv["role"].(string)
		addrsRaw, _ := srv["addresses"].([]any)

		addrs, err := parseAddresses(addrsRaw)
		if err != nil {
			return nil, err
		}

		switch role {
		case "ROUTE":
			routers = append(routers, addrs...)
		case "READ":
			readers = append(readers, addrs...)
		case "WRITE":
			writers = append(writers, addrs...)
		default:
			if strictRoles {
				return nil, boltErr.Newf(boltErr.CodeProtocolError, "%s has an unrecognized server role %q", source, role)
			}
		}
	}

	if len(routers) == 0 {
		return nil, boltErr.Newf(boltErr.CodeProtocolError, "%s has an empty router list", source)
	}
	if len(readers) == 0 {
		return nil, boltErr.Newf(boltErr.CodeProtocolError, "%s has an empty reader list", source)
	}

	return &Table{
		Routers:        routers,
		Readers:        readers,
		Writers:        writers,
		ExpirationTime: expirationFromTTL(nowMillis(), ttl),
	}, nil
}

func parseAddresses(raw []any) ([]addr.ServerAddress, error) {
	out := make([]addr.ServerAddress, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, boltErr.Newf(boltErr.CodeProtocolError, "ROUTE response address has unexpected type %T", v)
		}
		a, err := addr.Parse(s)
		if err != nil {
			return nil, boltErr.New(boltErr.CodeProtocolError, "ROUTE response contains an unparsable address", err)
		}
		out = append(out, a)
	}
	return out, nil
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	default:
		return 0, boltErr.Newf(boltErr.CodeProtocolError, "expected an integer TTL, got %T", v)
	}
}

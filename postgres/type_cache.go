package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/tuannm99/novadb"
)

const (
	sqlTypeNameByOID = "SELECT typname FROM pg_catalog.pg_type WHERE oid = $1"
	sqlTypeOIDByName = "SELECT oid FROM pg_catalog.pg_type WHERE typname = $1"
)

// typeCache maps type identifiers to names and back for types that are not
// built in. Identifiers are stable for a session, so nothing is evicted.
type typeCache struct {
	nameByOID map[uint32]string
	oidByName map[string]uint32
}

func newTypeCache() typeCache {
	return typeCache{
		nameByOID: make(map[uint32]string),
		oidByName: make(map[string]uint32),
	}
}

func (t *typeCache) put(oid uint32, name string) {
	t.nameByOID[oid] = name
	t.oidByName[name] = oid
}

// ResolveType describes a type identifier, asking the catalog when it is
// neither built in nor cached.
func (c *Conn) ResolveType(ctx context.Context, oid uint32) (TypeInfo, error) {
	if err := c.acquire(); err != nil {
		return TypeInfo{}, err
	}
	defer c.release()

	stop := c.watch(ctx)
	defer stop()
	return c.typeInfoByOID(oid)
}

// ResolveTypeName returns the identifier of a type by pg_type.typname.
func (c *Conn) ResolveTypeName(ctx context.Context, name string) (uint32, error) {
	if err := c.acquire(); err != nil {
		return 0, err
	}
	defer c.release()

	stop := c.watch(ctx)
	defer stop()
	return c.typeOIDByName(name)
}

// typeInfoByOID resolves oid from the built-in table, then the cache, then
// the catalog. It must not be called while another result is being read; use
// cachedTypeInfo there.
func (c *Conn) typeInfoByOID(oid uint32) (TypeInfo, error) {
	if ti, ok := c.cachedTypeInfo(oid); ok {
		return ti, nil
	}

	c.log.Debug("postgres: type lookup", "oid", oid)
	row, err := c.queryOne(sqlTypeNameByOID, oid)
	if err != nil {
		return TypeInfo{}, fmt.Errorf("postgres: resolve type %d: %w", oid, err)
	}
	name, err := novadb.TryGet[string](row, 0)
	if err != nil {
		return TypeInfo{}, fmt.Errorf("postgres: resolve type %d: %w", oid, err)
	}
	c.types.put(oid, name)
	return TypeInfo{oid: oid, name: name}, nil
}

// cachedTypeInfo answers from the builtin table and the connection cache only.
// A miss returns an unnamed TypeInfo and caches nothing, so a later lookup can
// still resolve it.
func (c *Conn) cachedTypeInfo(oid uint32) (TypeInfo, bool) {
	if ti, ok := builtinTypeInfo(oid); ok || oid == 0 {
		return ti, true
	}
	if name, ok := c.types.nameByOID[oid]; ok {
		return TypeInfo{oid: oid, name: name}, true
	}
	return TypeInfo{oid: oid}, false
}

func (c *Conn) typeOIDByName(name string) (uint32, error) {
	if oid, ok := c.types.oidByName[name]; ok {
		return oid, nil
	}

	c.log.Debug("postgres: type lookup", "name", name)
	row, err := c.queryOne(sqlTypeOIDByName, name)
	if errors.Is(err, novadb.ErrRowNotFound) {
		return 0, fmt.Errorf("postgres: type %q does not exist: %w", name, err)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: resolve type %q: %w", name, err)
	}
	oid, err := novadb.TryGet[uint32](row, 0)
	if err != nil {
		return 0, fmt.Errorf("postgres: resolve type %q: %w", name, err)
	}
	c.types.put(oid, name)
	return oid, nil
}

// queryOne runs a one-parameter catalog query on the statement path shared
// with user queries and returns its first row.
func (c *Conn) queryOne(sql string, arg any) (*Row, error) {
	args := NewArguments()
	if err := args.Add(arg); err != nil {
		return nil, err
	}

	var row *Row
	err := c.run(sql, args, true, func(it novadb.Item[*Row]) bool {
		if r, ok := it.Row(); ok {
			row = r
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, novadb.ErrRowNotFound
	}
	return row, nil
}

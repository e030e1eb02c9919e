package ldap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

const (
	rootDSESubschemaAttribute = "subschemaSubentry"
	defaultSubschemaDN        = "cn=Subschema"
	subschemaFilter           = "(objectClass=subschema)"
	anyObjectFilter           = "(objectClass=*)"
)

// Connection is a single directory session. It is Unbound until Bind
// succeeds and returns to Unbound on Close. A Connection is not safe for
// concurrent use.
type Connection struct {
	id        string
	config    *ConnectionConfig
	dialer    Dialer
	discovery *SRVDiscovery

	transport Transport
	server    *ServerInfo
	sizeLimit int
	boundDN   string
	password  string
	boundAt   time.Time

	schema *SchemaCache
}

// ConnectionOption configures a Connection.
type ConnectionOption func(*connectionOptions)

type connectionOptions struct {
	dialer      Dialer
	schemaStore SchemaStore
}

// WithDialer replaces the go-ldap dialer.
func WithDialer(d Dialer) ConnectionOption {
	return func(o *connectionOptions) {
		o.dialer = d
	}
}

// WithSharedSchemaStore puts a second-level store behind the schema cache.
func WithSharedSchemaStore(store SchemaStore) ConnectionOption {
	return func(o *connectionOptions) {
		o.schemaStore = store
	}
}

// NewConnection creates an unbound connection.
func NewConnection(config *ConnectionConfig, opts ...ConnectionOption) (*Connection, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := connectionOptions{dialer: DefaultDialer}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Connection{
		id:        uuid.NewString(),
		config:    config,
		dialer:    o.dialer,
		discovery: NewSRVDiscovery(),
	}

	if config.SchemaEnabled {
		var cacheOpts []SchemaCacheOption
		if o.schemaStore != nil {
			namespace := config.URL
			if namespace == "" {
				namespace = config.Domain
			}
			cacheOpts = append(cacheOpts, WithSchemaStore(o.schemaStore, strings.ToLower(namespace)))
		}
		cache, err := NewSchemaCache(config.SchemaCacheSize, c.retrieveAttributeTypeDefinition, cacheOpts...)
		if err != nil {
			return nil, err
		}
		c.schema = cache
	}

	return c, nil
}

// ID identifies the connection in logs.
func (c *Connection) ID() string {
	return c.id
}

// Config returns the connection configuration.
func (c *Connection) Config() *ConnectionConfig {
	return c.config
}

// BoundDN returns the identity of the current session, or "" when anonymous or unbound.
func (c *Connection) BoundDN() string {
	return c.boundDN
}

// IsClosed reports whether there is no open session.
func (c *Connection) IsClosed() bool {
	return c.transport == nil
}

// SchemaCache returns the schema cache, or nil when schema support is disabled.
func (c *Connection) SchemaCache() *SchemaCache {
	return c.schema
}

func (c *Connection) String() string {
	return fmt.Sprintf("Connection[%s]", c.id)
}

func (c *Connection) logFields(fields map[string]any) map[string]any {
	if fields == nil {
		fields = make(map[string]any)
	}
	fields["connection_id"] = c.id
	if c.server != nil {
		fields["server"] = fmt.Sprintf("%s:%d", c.server.Host, c.server.Port)
	}
	return fields
}

// Bind opens a new session authenticated as dn. An open session is closed first.
func (c *Connection) Bind(ctx context.Context, dn, password string) error {
	if !c.IsClosed() {
		tflog.SubsystemInfo(ctx, "ldap", "Already bound, closing connection first", c.logFields(map[string]any{
			"bound_dn":     identityForLog(c.boundDN),
			"rebind_as_dn": identityForLog(dn),
		}))
		if err := c.Close(); err != nil {
			tflog.SubsystemWarn(ctx, "ldap", "Failed to close previous session", c.logFields(map[string]any{
				"error": err.Error(),
			}))
		}
	}

	if c.config.Authentication == AuthModeNone {
		dn, password = "", ""
	} else if dn == "" || password == "" {
		return newLocalError(KindAuthentication, "bind",
			"bind DN and password are required for simple authentication; use authentication 'none' for anonymous bind")
	}

	options := c.config.ProviderOptions()
	dialOpts, err := c.config.ResolveDialOptions(options)
	if err != nil {
		return NewLDAPError("bind", err)
	}

	LogConnectionEvent(ctx, "connection_attempt", SanitizeFields(c.logFields(map[string]any{
		"url":            options[OptionURL],
		"domain":         c.config.Domain,
		"authentication": options[OptionAuthentication],
		"tls":            c.config.TLSEnabled,
		"bind_dn":        identityForLog(dn),
	})))

	transport, server, err := c.open(ctx, options[OptionURL], dialOpts)
	if err != nil {
		LogConnectionEvent(ctx, "connection_failed", c.logFields(map[string]any{
			"error": err.Error(),
		}))
		return NewLDAPError("bind", err)
	}

	// StartTLS must complete before any credentials cross the wire
	if c.config.TLSEnabled && !server.UseTLS {
		if err := transport.StartTLS(dialOpts.TLSConfig); err != nil {
			closeQuietly(ctx, transport)
			return NewLDAPError("start_tls", err)
		}
		tflog.SubsystemDebug(ctx, "ldap", "TLS negotiated", c.logFields(nil))
	}

	if err := authenticate(transport, c.config.Authentication, dn, password); err != nil {
		closeQuietly(ctx, transport)
		LogConnectionEvent(ctx, "authentication_failed", c.logFields(map[string]any{
			"bind_dn": identityForLog(dn),
			"error":   err.Error(),
		}))
		return NewLDAPError("bind", err, WithDN(dn))
	}

	c.transport = transport
	c.server = server
	c.sizeLimit = dialOpts.SizeLimit
	c.boundDN = dn
	c.password = password
	c.boundAt = time.Now()

	LogConnectionEvent(ctx, "authentication_success", c.logFields(map[string]any{
		"bind_dn":        identityForLog(dn),
		"authentication": string(c.config.Authentication),
	}))
	return nil
}

func authenticate(t Transport, mode AuthMode, dn, password string) error {
	switch mode {
	case AuthModeNone:
		return t.UnauthenticatedBind("")
	case AuthModeSimple:
		return t.Bind(dn, password)
	default:
		return fmt.Errorf("unsupported authentication mode: %s", mode)
	}
}

// open dials the configured URL, or the SRV-discovered servers in priority order.
func (c *Connection) open(ctx context.Context, url string, opts DialOptions) (Transport, *ServerInfo, error) {
	servers, err := c.resolveServers(ctx, url)
	if err != nil {
		return nil, nil, err
	}

	var lastErr error
	for _, server := range servers {
		t, err := c.dialer.Dial(ctx, ServerInfoToURL(server), opts)
		if err != nil {
			tflog.SubsystemDebug(ctx, "ldap", "Dial failed", c.logFields(map[string]any{
				"host":  server.Host,
				"port":  server.Port,
				"error": err.Error(),
			}))
			lastErr = err
			continue
		}
		return t, server, nil
	}
	return nil, nil, lastErr
}

func (c *Connection) resolveServers(ctx context.Context, url string) ([]*ServerInfo, error) {
	if url != "" {
		server, err := ParseLDAPURL(url)
		if err != nil {
			return nil, fmt.Errorf("invalid LDAP URL %s: %w", url, err)
		}
		return []*ServerInfo{server}, nil
	}

	if c.config.Domain == "" {
		return nil, errors.New("either URL or domain must be specified")
	}

	servers, err := c.discovery.DiscoverServers(ctx, c.config.Domain)
	if err != nil {
		return nil, fmt.Errorf("SRV discovery failed: %w", err)
	}
	if len(servers) == 0 {
		return nil, errors.New("no servers discovered")
	}
	return servers, nil
}

// Rebind authenticates a new session with the identity of the current one.
func (c *Connection) Rebind(ctx context.Context) error {
	if c.IsClosed() {
		return newLocalError(KindNotBound, "rebind", "cannot rebind a closed connection, bind first")
	}
	return c.Bind(ctx, c.boundDN, c.password)
}

// Close ends the session. Closing an unbound connection is a no-op.
func (c *Connection) Close() error {
	if c.IsClosed() {
		return nil
	}

	err := c.transport.Close()
	c.transport = nil
	c.server = nil
	c.boundDN = ""
	c.password = ""

	if err != nil {
		return NewLDAPError("close", err)
	}
	return nil
}

func closeQuietly(ctx context.Context, t Transport) {
	if err := t.Close(); err != nil {
		tflog.SubsystemDebug(ctx, "ldap", "Failed to close transport", map[string]any{
			"error": err.Error(),
		})
	}
}

func (c *Connection) requireBound(operation string) error {
	if c.IsClosed() {
		return newLocalError(KindNotBound, operation, "connection is not bound")
	}
	return nil
}

// resolver returns the schema cache as an untyped nil when schema support is off,
// so the marshaler falls back to counting values.
func (c *Connection) resolver() AttributeTypeResolver {
	if c.schema == nil {
		return nil
	}
	return c.schema
}

// Search starts a search. Paging and sorting controls apply to this call only.
// The first result is fetched before returning, so a failing search reports its
// error here rather than from the cursor.
func (c *Connection) Search(ctx context.Context, baseDN, filter string, controls *SearchControls) (Cursor, error) {
	if err := c.requireBound("search"); err != nil {
		return nil, err
	}
	if controls == nil {
		controls = &SearchControls{}
	}

	req := newSearchRequest(baseDN, filter, controls, c.sizeLimit)
	source := cursorSource{
		baseDN:   baseDN,
		schema:   c.resolver(),
		referral: c.config.Referral,
		paging:   controls.PagingEnabled(),
		sorting:  controls.SortEnabled(),
	}

	tflog.SubsystemDebug(ctx, "ldap", "Starting search", c.logFields(map[string]any{
		"base_dn":   baseDN,
		"filter":    filter,
		"scope":     controls.Scope.String(),
		"page_size": controls.PageSize,
		"sorted":    controls.SortEnabled(),
	}))

	var cursor Cursor
	if controls.PagingEnabled() {
		cursor = newPagedCursor(c.transport, req, controls.PageSize, source)
	} else {
		cursor = newSimpleCursor(ctx, c.transport, req, source)
	}

	if _, err := cursor.HasNext(ctx); err != nil {
		_ = cursor.Close()
		LogLDAPError(ctx, "ldap", "search", err, c.logFields(map[string]any{"base_dn": baseDN}))
		return nil, err
	}
	return cursor, nil
}

// Lookup reads one entry with a base scope search.
func (c *Connection) Lookup(ctx context.Context, dn string, attributes ...string) (*Entry, error) {
	if err := c.requireBound("lookup"); err != nil {
		return nil, err
	}

	req := ldap.NewSearchRequest(dn, ldap.ScopeBaseObject, ldap.DerefAlways, 0, 0, false,
		anyObjectFilter, attributes, nil)

	result, err := c.transport.Search(req)
	if err != nil {
		return nil, NewLDAPError("lookup", err, WithDN(dn))
	}
	if len(result.Entries) == 0 {
		return nil, newLocalError(KindNameNotFound, "lookup", fmt.Sprintf("entry %s not found", dn))
	}

	return BuildEntry(ctx, dn, result.Entries[0].Attributes, c.resolver())
}

// AddEntry creates the entry with all of its attributes.
func (c *Connection) AddEntry(ctx context.Context, entry *Entry) error {
	if err := c.requireWritable("add_entry", entry); err != nil {
		return err
	}

	req := ldap.NewAddRequest(entry.DN(), nil)
	for _, attr := range entry.Attributes() {
		req.Attribute(attr.Name(), attr.Values())
	}

	return c.write(ctx, "add_entry", entry.DN(), func() error {
		return c.transport.Add(req)
	})
}

// UpdateEntry replaces every attribute present on entry.
func (c *Connection) UpdateEntry(ctx context.Context, entry *Entry) error {
	if err := c.requireWritable("update_entry", entry); err != nil {
		return err
	}
	if entry.AttributeCount() == 0 {
		tflog.SubsystemDebug(ctx, "ldap", "Nothing to update", c.logFields(map[string]any{"dn": entry.DN()}))
		return nil
	}

	req := ldap.NewModifyRequest(entry.DN(), nil)
	for _, attr := range entry.Attributes() {
		req.Replace(attr.Name(), attr.Values())
	}

	return c.write(ctx, "update_entry", entry.DN(), func() error {
		return c.transport.Modify(req)
	})
}

// DeleteEntry removes the entry named dn.
func (c *Connection) DeleteEntry(ctx context.Context, dn string) error {
	if err := c.requireBound("delete_entry"); err != nil {
		return err
	}
	if dn == "" {
		return newLocalError(KindMissingDN, "delete_entry", ErrMissingDN.Message)
	}

	return c.write(ctx, "delete_entry", dn, func() error {
		return c.transport.Del(ldap.NewDelRequest(dn, nil))
	})
}

// RenameEntry renames oldDN to newDN, moving it when the parent differs.
func (c *Connection) RenameEntry(ctx context.Context, oldDN, newDN string) error {
	if err := c.requireBound("rename_entry"); err != nil {
		return err
	}
	if oldDN == "" || newDN == "" {
		return newLocalError(KindMissingDN, "rename_entry", ErrMissingDN.Message)
	}

	newRDN, newParent, err := SplitDN(newDN)
	if err != nil {
		return NewLDAPError("rename_entry", err, WithDN(newDN))
	}
	_, oldParent, err := SplitDN(oldDN)
	if err != nil {
		return NewLDAPError("rename_entry", err, WithDN(oldDN))
	}

	newSuperior := ""
	if !DNEqual(oldParent, newParent) {
		newSuperior = newParent
	}

	req := ldap.NewModifyDNRequest(oldDN, newRDN, true, newSuperior)
	return c.write(ctx, "rename_entry", oldDN, func() error {
		return c.transport.ModifyDN(req)
	})
}

// AddAttribute adds the attribute values to the entry named dn.
func (c *Connection) AddAttribute(ctx context.Context, dn string, attr *EntryAttribute) error {
	return c.modifyAttribute(ctx, "add_attribute", dn, attr, (*ldap.ModifyRequest).Add)
}

// UpdateAttribute replaces the attribute values of the entry named dn.
func (c *Connection) UpdateAttribute(ctx context.Context, dn string, attr *EntryAttribute) error {
	return c.modifyAttribute(ctx, "update_attribute", dn, attr, (*ldap.ModifyRequest).Replace)
}

// DeleteAttribute removes the given values, or the whole attribute when attr
// carries no non-empty value.
func (c *Connection) DeleteAttribute(ctx context.Context, dn string, attr *EntryAttribute) error {
	return c.modifyAttribute(ctx, "delete_attribute", dn, attr, (*ldap.ModifyRequest).Delete)
}

func (c *Connection) modifyAttribute(ctx context.Context, operation, dn string, attr *EntryAttribute,
	change func(*ldap.ModifyRequest, string, []string),
) error {
	if err := c.requireBound(operation); err != nil {
		return err
	}
	if dn == "" {
		return newLocalError(KindMissingDN, operation, ErrMissingDN.Message)
	}
	if attr == nil {
		return newLocalError(KindInvalidAttribute, operation, "attribute cannot be nil")
	}

	values := make([]string, 0, attr.Len())
	for _, v := range attr.Values() {
		if v != "" {
			values = append(values, v)
		}
	}

	req := ldap.NewModifyRequest(dn, nil)
	change(req, attr.Name(), values)

	return c.write(ctx, operation, dn, func() error {
		return c.transport.Modify(req)
	})
}

func (c *Connection) requireWritable(operation string, entry *Entry) error {
	if err := c.requireBound(operation); err != nil {
		return err
	}
	if entry == nil || !entry.HasDN() {
		return newLocalError(KindMissingDN, operation, ErrMissingDN.Message)
	}
	return nil
}

// write runs one round trip and classifies its failure.
func (c *Connection) write(ctx context.Context, operation, dn string, fn func() error) error {
	return LogOperation(ctx, "ldap", operation, c.logFields(map[string]any{"dn": dn}), func() error {
		if err := fn(); err != nil {
			return NewLDAPError(operation, err, WithDN(dn))
		}
		return nil
	})
}

// Ping reads the root DSE.
func (c *Connection) Ping(ctx context.Context) error {
	if err := c.requireBound("ping"); err != nil {
		return err
	}
	_, err := c.rootDSE(ctx, "supportedLDAPVersion")
	return err
}

func (c *Connection) rootDSE(_ context.Context, attributes ...string) (*ldap.Entry, error) {
	req := ldap.NewSearchRequest("", ldap.ScopeBaseObject, ldap.NeverDerefAliases, 1, 0, false,
		anyObjectFilter, attributes, nil)

	result, err := c.transport.Search(req)
	if err != nil {
		return nil, NewLDAPError("root_dse", err)
	}
	if len(result.Entries) == 0 {
		return nil, newLocalError(KindNameNotFound, "root_dse", "no root DSE found")
	}
	return result.Entries[0], nil
}

// AttributeTypeDefinition returns the schema definition of an attribute,
// through the schema cache when schema support is enabled.
func (c *Connection) AttributeTypeDefinition(ctx context.Context, name string) (*AttributeTypeDefinition, error) {
	if err := c.requireBound("schema_lookup"); err != nil {
		return nil, err
	}
	if c.schema != nil {
		return c.schema.AttributeTypeDefinition(ctx, name)
	}

	tflog.SubsystemDebug(ctx, "schema", "Schema cache disabled, retrieving attribute type definition directly", map[string]any{
		"attribute": name,
	})
	return c.retrieveAttributeTypeDefinition(ctx, name)
}

func (c *Connection) retrieveAttributeTypeDefinition(ctx context.Context, name string) (*AttributeTypeDefinition, error) {
	if err := c.requireBound("schema_lookup"); err != nil {
		return nil, err
	}

	values, err := c.readSubschema(ctx, "attributeTypes")
	if err != nil {
		return nil, err
	}

	for _, raw := range values {
		def, err := ParseAttributeTypeDefinition(raw)
		if err != nil {
			tflog.SubsystemTrace(ctx, "schema", "Skipping unparseable attribute type", map[string]any{"error": err.Error()})
			continue
		}
		if def.HasName(name) {
			return def, nil
		}
	}

	return nil, newLocalError(KindNameNotFound, "schema_lookup",
		fmt.Sprintf("attribute type %s is not defined in the schema", name))
}

// ObjectClassDefinition returns the schema definition of an object class.
func (c *Connection) ObjectClassDefinition(ctx context.Context, name string) (*ObjectClassDefinition, error) {
	defs, err := c.objectClasses(ctx)
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		if def.HasName(name) {
			return def, nil
		}
	}
	return nil, newLocalError(KindNameNotFound, "schema_lookup",
		fmt.Sprintf("object class %s is not defined in the schema", name))
}

// AllObjectClasses returns the name of every object class in the schema.
func (c *Connection) AllObjectClasses(ctx context.Context) ([]string, error) {
	defs, err := c.objectClasses(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.String())
	}
	return names, nil
}

func (c *Connection) objectClasses(ctx context.Context) ([]*ObjectClassDefinition, error) {
	if err := c.requireBound("schema_lookup"); err != nil {
		return nil, err
	}

	values, err := c.readSubschema(ctx, "objectClasses")
	if err != nil {
		return nil, err
	}

	defs := make([]*ObjectClassDefinition, 0, len(values))
	for _, raw := range values {
		def, err := ParseObjectClassDefinition(raw)
		if err != nil {
			tflog.SubsystemTrace(ctx, "schema", "Skipping unparseable object class", map[string]any{"error": err.Error()})
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// readSubschema returns the raw values of one attribute of the subschema entry
// advertised by the root DSE.
func (c *Connection) readSubschema(ctx context.Context, attribute string) ([]string, error) {
	subschemaDN := defaultSubschemaDN
	if dse, err := c.rootDSE(ctx, rootDSESubschemaAttribute); err == nil {
		if dn := dse.GetEqualFoldAttributeValue(rootDSESubschemaAttribute); dn != "" {
			subschemaDN = dn
		}
	} else {
		tflog.SubsystemDebug(ctx, "schema", "Root DSE unavailable, using default subschema entry", map[string]any{
			"error":        err.Error(),
			"subschema_dn": subschemaDN,
		})
	}

	req := ldap.NewSearchRequest(subschemaDN, ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, 0, false,
		subschemaFilter, []string{attribute}, nil)

	result, err := c.transport.Search(req)
	if err != nil {
		return nil, NewLDAPError("schema_lookup", err, WithDN(subschemaDN))
	}
	if len(result.Entries) == 0 {
		return nil, newLocalError(KindNameNotFound, "schema_lookup",
			fmt.Sprintf("subschema entry %s not found", subschemaDN))
	}

	tflog.SubsystemTrace(ctx, "schema", "Read subschema entry", map[string]any{
		"subschema_dn": subschemaDN,
		"attribute":    attribute,
	})
	return result.Entries[0].GetEqualFoldAttributeValues(attribute), nil
}

func identityForLog(dn string) string {
	if dn == "" {
		return "anonymous"
	}
	return dn
}

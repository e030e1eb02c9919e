// Package ldaptest provides an in-memory directory server double. Sessions
// dialed from a Directory satisfy the transport interface of the ldap package
// and speak go-ldap request and result types, so connection, cursor and pool
// code runs unchanged against it.
package ldaptest

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// SubschemaDN is the subschema entry advertised by the root DSE.
const SubschemaDN = "cn=Subschema"

type record struct {
	entry *ldap.Entry
	rdns  []string
}

// Directory is an in-memory DIT. It is safe for concurrent use.
type Directory struct {
	mu          sync.Mutex
	records     map[string]*record
	order       []string
	passwords   map[string]string
	referrals   map[string][]string
	unsupported map[string]bool
	relativeDNs bool
	rootDSE     *ldap.Entry

	dialErrs []error
	failNext map[string]error

	calls   []string
	conns   []*Conn
	dials   int
	streams atomic.Int64
}

// New returns an empty directory with a root DSE.
func New() *Directory {
	return &Directory{
		records:     make(map[string]*record),
		passwords:   make(map[string]string),
		referrals:   make(map[string][]string),
		unsupported: make(map[string]bool),
		failNext:    make(map[string]error),
		rootDSE: &ldap.Entry{
			DN: "",
			Attributes: []*ldap.EntryAttribute{
				newAttribute("objectClass", "top"),
				newAttribute("subschemaSubentry", SubschemaDN),
				newAttribute("supportedLDAPVersion", "3"),
			},
		},
	}
}

// AddEntry stores an entry without any protocol checks.
func (d *Directory) AddEntry(dn string, attributes map[string][]string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := make([]string, 0, len(attributes))
	for name := range attributes {
		names = append(names, name)
	}
	slices.Sort(names)

	entry := &ldap.Entry{DN: dn}
	for _, name := range names {
		entry.Attributes = append(entry.Attributes, newAttribute(name, attributes[name]...))
	}
	d.put(mustParse(dn), entry)
}

// SetPassword makes dn a valid simple bind identity.
func (d *Directory) SetPassword(dn, password string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.passwords[key(mustParse(dn))] = password
}

// SetSchema publishes attribute type and object class descriptions in the subschema entry.
func (d *Directory) SetSchema(attributeTypes, objectClasses []string) {
	d.AddEntry(SubschemaDN, map[string][]string{
		"objectClass":    {"top", "subschema"},
		"attributeTypes": attributeTypes,
		"objectClasses":  objectClasses,
	})
}

// AddReferral returns continuation references from searches based at baseDN.
func (d *Directory) AddReferral(baseDN string, urls ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := key(mustParse(baseDN))
	d.referrals[k] = append(d.referrals[k], urls...)
}

// RejectControl makes the control unsupported. A search carrying it marked
// critical fails as an unavailable critical extension; otherwise the control
// is ignored.
func (d *Directory) RejectControl(oid string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unsupported[oid] = true
}

// ReturnRelativeDNs makes searches return names relative to the search base.
func (d *Directory) ReturnRelativeDNs(relative bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.relativeDNs = relative
}

// FailDials makes the next len(errs) dials fail with errs in order.
func (d *Directory) FailDials(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErrs = append(d.dialErrs, errs...)
}

// FailNext makes the next operation named op fail with err. Operation names
// are dial, starttls, bind, search, add, modify, modifydn and delete.
func (d *Directory) FailNext(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext[op] = err
}

// Kill drops every open session, as a server restart would.
func (d *Directory) Kill() {
	d.mu.Lock()
	conns := slices.Clone(d.conns)
	d.mu.Unlock()

	for _, c := range conns {
		c.mu.Lock()
		c.killed = true
		c.mu.Unlock()
	}
}

// Entry returns a copy of the stored entry named dn.
func (d *Directory) Entry(dn string) (*ldap.Entry, bool) {
	rdns, err := parse(dn)
	if err != nil {
		return nil, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.records[key(rdns)]
	if !ok {
		return nil, false
	}
	return copyEntry(r.entry), true
}

// Calls returns the operations seen so far, such as "bind cn=admin,dc=example,dc=com".
func (d *Directory) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.calls)
}

// ResetCalls forgets the recorded operations.
func (d *Directory) ResetCalls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

// Dials returns the number of dial attempts.
func (d *Directory) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// OpenConns returns the number of sessions neither closed nor killed.
func (d *Directory) OpenConns() int {
	d.mu.Lock()
	conns := slices.Clone(d.conns)
	d.mu.Unlock()

	open := 0
	for _, c := range conns {
		if !c.IsClosing() {
			open++
		}
	}
	return open
}

// ActiveSearches returns the number of asynchronous searches whose producer
// goroutine has not finished yet.
func (d *Directory) ActiveSearches() int {
	return int(d.streams.Load())
}

// Dial opens a session. The URL is only recorded.
func (d *Directory) Dial(ctx context.Context, url string) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	d.calls = append(d.calls, "dial "+url)

	if len(d.dialErrs) > 0 {
		err := d.dialErrs[0]
		d.dialErrs = d.dialErrs[1:]
		return nil, err
	}
	if err := d.takeFailure("dial"); err != nil {
		return nil, err
	}

	c := &Conn{dir: d, url: url}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *Directory) record(call string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
}

// takeFailure must be called with d.mu held.
func (d *Directory) takeFailure(op string) error {
	err, ok := d.failNext[op]
	if !ok {
		return nil
	}
	delete(d.failNext, op)
	return err
}

func (d *Directory) failure(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.takeFailure(op)
}

// put must be called with d.mu held.
func (d *Directory) put(rdns []string, entry *ldap.Entry) {
	k := key(rdns)
	if _, exists := d.records[k]; !exists {
		d.order = append(d.order, k)
	}
	d.records[k] = &record{entry: entry, rdns: rdns}
}

// remove must be called with d.mu held.
func (d *Directory) remove(rdns []string) {
	k := key(rdns)
	delete(d.records, k)
	d.order = slices.DeleteFunc(d.order, func(o string) bool { return o == k })
}

// hasChildren must be called with d.mu held.
func (d *Directory) hasChildren(rdns []string) bool {
	for _, r := range d.records {
		if inScope(rdns, r.rdns, ldap.ScopeSingleLevel) {
			return true
		}
	}
	return false
}

func (d *Directory) bind(dn, password string) error {
	rdns, err := parse(dn)
	if err != nil {
		return ldap.NewError(ldap.LDAPResultInvalidDNSyntax, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls = append(d.calls, "bind "+dn)
	if err := d.takeFailure("bind"); err != nil {
		return err
	}

	expected, ok := d.passwords[key(rdns)]
	if !ok || expected != password {
		return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))
	}
	return nil
}

// search evaluates req against the directory.
func (d *Directory) search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	controls := make([]*RequestControl, 0, len(req.Controls))
	for _, ctrl := range req.Controls {
		rc, err := ParseControl(ctrl)
		if err != nil {
			return nil, ldap.NewError(ldap.LDAPResultProtocolError, err)
		}
		controls = append(controls, rc)
	}

	var paging, sorting *RequestControl
	for _, rc := range controls {
		switch rc.Type {
		case ldap.ControlTypePaging:
			paging = rc
		case ldap.ControlTypeServerSideSorting:
			sorting = rc
		}
	}
	if paging != nil && paging.PagingSize == 0 {
		d.calls = append(d.calls, "abandon "+req.BaseDN)
		return &ldap.SearchResult{}, nil
	}

	d.calls = append(d.calls, "search "+req.BaseDN)
	if err := d.takeFailure("search"); err != nil {
		return nil, err
	}

	// Unsupported controls fail the search only when marked critical
	for _, rc := range controls {
		if !d.unsupported[rc.Type] {
			continue
		}
		if rc.Critical {
			return nil, ldap.NewError(ldap.LDAPResultUnavailableCriticalExtension,
				fmt.Errorf("critical extension is unavailable: %s", rc.Type))
		}
		switch rc.Type {
		case ldap.ControlTypePaging:
			paging = nil
		case ldap.ControlTypeServerSideSorting:
			sorting = nil
		}
	}

	filter, err := ldap.CompileFilter(req.Filter)
	if err != nil {
		return nil, ldap.NewError(ldap.LDAPResultFilterError, err)
	}

	if req.BaseDN == "" && req.Scope == ldap.ScopeBaseObject {
		result := &ldap.SearchResult{}
		if matches(filter, d.rootDSE) {
			result.Entries = append(result.Entries, project(d.rootDSE, req.Attributes, ""))
		}
		return result, nil
	}

	base, err := parse(req.BaseDN)
	if err != nil {
		return nil, ldap.NewError(ldap.LDAPResultInvalidDNSyntax, err)
	}
	if _, ok := d.records[key(base)]; !ok {
		return nil, ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no such object: %s", req.BaseDN))
	}

	var found []*record
	for _, k := range d.order {
		r := d.records[k]
		if inScope(base, r.rdns, req.Scope) && matches(filter, r.entry) {
			found = append(found, r)
		}
	}

	if sorting != nil {
		sortKey := sorting.SortKeys[0]
		slices.SortStableFunc(found, func(a, b *record) int {
			c := cmp.Compare(
				strings.ToLower(a.entry.GetEqualFoldAttributeValue(sortKey.AttributeType)),
				strings.ToLower(b.entry.GetEqualFoldAttributeValue(sortKey.AttributeType)))
			if sortKey.Reverse {
				return -c
			}
			return c
		})
	}

	var sizeErr error
	if req.SizeLimit > 0 && len(found) > req.SizeLimit {
		found = found[:req.SizeLimit]
		sizeErr = ldap.NewError(ldap.LDAPResultSizeLimitExceeded, errors.New("size limit exceeded"))
	}

	result := &ldap.SearchResult{}
	first := true
	page := found
	if paging != nil {
		offset := 0
		if len(paging.Cookie) > 0 {
			offset, _ = strconv.Atoi(string(paging.Cookie))
			first = false
		}
		offset = min(offset, len(found))
		end := min(offset+int(paging.PagingSize), len(found))
		page = found[offset:end]

		response := &ldap.ControlPaging{PagingSize: uint32(len(found))}
		if end < len(found) {
			response.SetCookie([]byte(strconv.Itoa(end)))
			sizeErr = nil
		}
		result.Controls = append(result.Controls, response)
	}

	for _, r := range page {
		dn := r.entry.DN
		if d.relativeDNs {
			dn = relativeName(r.entry.DN, len(base))
		}
		result.Entries = append(result.Entries, project(r.entry, req.Attributes, dn))
	}
	if first {
		result.Referrals = slices.Clone(d.referrals[key(base)])
	}

	if sizeErr != nil {
		return result, sizeErr
	}
	return result, nil
}

func (d *Directory) add(req *ldap.AddRequest) error {
	rdns, err := parse(req.DN)
	if err != nil {
		return ldap.NewError(ldap.LDAPResultInvalidDNSyntax, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls = append(d.calls, "add "+req.DN)
	if err := d.takeFailure("add"); err != nil {
		return err
	}

	if _, exists := d.records[key(rdns)]; exists {
		return ldap.NewError(ldap.LDAPResultEntryAlreadyExists, fmt.Errorf("entry already exists: %s", req.DN))
	}
	if len(rdns) > 1 {
		if _, ok := d.records[key(rdns[1:])]; !ok {
			return ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("parent of %s does not exist", req.DN))
		}
	}

	entry := &ldap.Entry{DN: req.DN}
	for _, attr := range req.Attributes {
		entry.Attributes = append(entry.Attributes, newAttribute(attr.Type, attr.Vals...))
	}
	d.put(rdns, entry)
	return nil
}

func (d *Directory) modify(req *ldap.ModifyRequest) error {
	rdns, err := parse(req.DN)
	if err != nil {
		return ldap.NewError(ldap.LDAPResultInvalidDNSyntax, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls = append(d.calls, "modify "+req.DN)
	if err := d.takeFailure("modify"); err != nil {
		return err
	}

	r, ok := d.records[key(rdns)]
	if !ok {
		return ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no such object: %s", req.DN))
	}

	// Changes apply atomically, so work on a copy
	entry := copyEntry(r.entry)
	for _, change := range req.Changes {
		if err := applyChange(entry, change); err != nil {
			return err
		}
	}
	r.entry = entry
	return nil
}

func applyChange(entry *ldap.Entry, change ldap.Change) error {
	name := change.Modification.Type
	vals := change.Modification.Vals
	idx := slices.IndexFunc(entry.Attributes, func(a *ldap.EntryAttribute) bool { return strings.EqualFold(a.Name, name) })

	switch change.Operation {
	case ldap.AddAttribute:
		if idx < 0 {
			entry.Attributes = append(entry.Attributes, newAttribute(name, vals...))
			return nil
		}
		attr := entry.Attributes[idx]
		for _, v := range vals {
			if containsFold(attr.Values, v) {
				return ldap.NewError(ldap.LDAPResultAttributeOrValueExists,
					fmt.Errorf("%s: value %q already exists", name, v))
			}
		}
		entry.Attributes[idx] = newAttribute(attr.Name, append(slices.Clone(attr.Values), vals...)...)

	case ldap.DeleteAttribute:
		if idx < 0 {
			return ldap.NewError(ldap.LDAPResultNoSuchAttribute, fmt.Errorf("%s: no such attribute", name))
		}
		if len(vals) == 0 {
			entry.Attributes = slices.Delete(entry.Attributes, idx, idx+1)
			return nil
		}
		remaining := slices.Clone(entry.Attributes[idx].Values)
		for _, v := range vals {
			i := slices.IndexFunc(remaining, func(s string) bool { return strings.EqualFold(s, v) })
			if i < 0 {
				return ldap.NewError(ldap.LDAPResultNoSuchAttribute, fmt.Errorf("%s: no such value %q", name, v))
			}
			remaining = slices.Delete(remaining, i, i+1)
		}
		if len(remaining) == 0 {
			entry.Attributes = slices.Delete(entry.Attributes, idx, idx+1)
		} else {
			entry.Attributes[idx] = newAttribute(entry.Attributes[idx].Name, remaining...)
		}

	case ldap.ReplaceAttribute:
		switch {
		case len(vals) == 0 && idx >= 0:
			entry.Attributes = slices.Delete(entry.Attributes, idx, idx+1)
		case len(vals) == 0:
		case idx >= 0:
			entry.Attributes[idx] = newAttribute(entry.Attributes[idx].Name, vals...)
		default:
			entry.Attributes = append(entry.Attributes, newAttribute(name, vals...))
		}

	default:
		return ldap.NewError(ldap.LDAPResultUnwillingToPerform, fmt.Errorf("unsupported modify operation %d", change.Operation))
	}
	return nil
}

func (d *Directory) modifyDN(req *ldap.ModifyDNRequest) error {
	rdns, err := parse(req.DN)
	if err != nil {
		return ldap.NewError(ldap.LDAPResultInvalidDNSyntax, err)
	}
	parsed, err := ldap.ParseDN(req.DN)
	if err != nil {
		return ldap.NewError(ldap.LDAPResultInvalidDNSyntax, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls = append(d.calls, "modifydn "+req.DN)
	if err := d.takeFailure("modifydn"); err != nil {
		return err
	}

	r, ok := d.records[key(rdns)]
	if !ok {
		return ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no such object: %s", req.DN))
	}
	if d.hasChildren(rdns) {
		return ldap.NewError(ldap.LDAPResultNotAllowedOnNonLeaf, fmt.Errorf("%s has subordinates", req.DN))
	}

	parent := req.NewSuperior
	if parent == "" {
		parent = formatRDNs(parsed.RDNs[1:])
	}
	newDN := req.NewRDN
	if parent != "" {
		newDN += "," + parent
	}

	newRDNs, err := parse(newDN)
	if err != nil {
		return ldap.NewError(ldap.LDAPResultInvalidDNSyntax, err)
	}
	if _, exists := d.records[key(newRDNs)]; exists {
		return ldap.NewError(ldap.LDAPResultEntryAlreadyExists, fmt.Errorf("entry already exists: %s", newDN))
	}
	if len(newRDNs) > 1 {
		if _, ok := d.records[key(newRDNs[1:])]; !ok {
			return ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("new superior %s does not exist", parent))
		}
	}

	entry := copyEntry(r.entry)
	entry.DN = newDN
	if req.DeleteOldRDN {
		for _, a := range parsed.RDNs[0].Attributes {
			_ = applyChange(entry, ldap.Change{
				Operation:    ldap.DeleteAttribute,
				Modification: ldap.PartialAttribute{Type: a.Type, Vals: []string{a.Value}},
			})
		}
	}
	newRDN, err := ldap.ParseDN(req.NewRDN)
	if err != nil {
		return ldap.NewError(ldap.LDAPResultInvalidDNSyntax, err)
	}
	for _, a := range newRDN.RDNs[0].Attributes {
		_ = applyChange(entry, ldap.Change{
			Operation:    ldap.AddAttribute,
			Modification: ldap.PartialAttribute{Type: a.Type, Vals: []string{a.Value}},
		})
	}

	d.remove(rdns)
	d.put(newRDNs, entry)
	return nil
}

func (d *Directory) del(req *ldap.DelRequest) error {
	rdns, err := parse(req.DN)
	if err != nil {
		return ldap.NewError(ldap.LDAPResultInvalidDNSyntax, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls = append(d.calls, "delete "+req.DN)
	if err := d.takeFailure("delete"); err != nil {
		return err
	}

	if _, ok := d.records[key(rdns)]; !ok {
		return ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no such object: %s", req.DN))
	}
	if d.hasChildren(rdns) {
		return ldap.NewError(ldap.LDAPResultNotAllowedOnNonLeaf, fmt.Errorf("%s has subordinates", req.DN))
	}
	d.remove(rdns)
	return nil
}

// matches evaluates a compiled RFC 4515 filter against entry.
func matches(filter *ber.Packet, entry *ldap.Entry) bool {
	switch filter.Tag {
	case ldap.FilterAnd:
		for _, child := range filter.Children {
			if !matches(child, entry) {
				return false
			}
		}
		return true

	case ldap.FilterOr:
		for _, child := range filter.Children {
			if matches(child, entry) {
				return true
			}
		}
		return false

	case ldap.FilterNot:
		return len(filter.Children) == 1 && !matches(filter.Children[0], entry)

	case ldap.FilterPresent:
		name := packetString(filter)
		if strings.EqualFold(name, "objectClass") {
			return true
		}
		return len(entry.GetEqualFoldAttributeValues(name)) > 0

	case ldap.FilterEqualityMatch, ldap.FilterApproxMatch:
		if len(filter.Children) != 2 {
			return false
		}
		want := packetString(filter.Children[1])
		return containsFold(entry.GetEqualFoldAttributeValues(packetString(filter.Children[0])), want)

	case ldap.FilterGreaterOrEqual, ldap.FilterLessOrEqual:
		if len(filter.Children) != 2 {
			return false
		}
		bound := strings.ToLower(packetString(filter.Children[1]))
		for _, v := range entry.GetEqualFoldAttributeValues(packetString(filter.Children[0])) {
			c := strings.Compare(strings.ToLower(v), bound)
			if (filter.Tag == ldap.FilterGreaterOrEqual && c >= 0) || (filter.Tag == ldap.FilterLessOrEqual && c <= 0) {
				return true
			}
		}
		return false

	case ldap.FilterSubstrings:
		if len(filter.Children) != 2 {
			return false
		}
		for _, v := range entry.GetEqualFoldAttributeValues(packetString(filter.Children[0])) {
			if matchesSubstrings(strings.ToLower(v), filter.Children[1].Children) {
				return true
			}
		}
		return false

	default:
		return false
	}
}

func matchesSubstrings(value string, parts []*ber.Packet) bool {
	for _, part := range parts {
		s := strings.ToLower(packetString(part))
		switch part.Tag {
		case ldap.FilterSubstringsInitial:
			if !strings.HasPrefix(value, s) {
				return false
			}
			value = value[len(s):]
		case ldap.FilterSubstringsAny:
			i := strings.Index(value, s)
			if i < 0 {
				return false
			}
			value = value[i+len(s):]
		case ldap.FilterSubstringsFinal:
			if !strings.HasSuffix(value, s) {
				return false
			}
		}
	}
	return true
}

func packetString(p *ber.Packet) string {
	if s, ok := p.Value.(string); ok {
		return s
	}
	if p.Data != nil {
		return p.Data.String()
	}
	return ""
}

// project copies entry keeping only the requested attributes.
func project(entry *ldap.Entry, attributes []string, dn string) *ldap.Entry {
	out := &ldap.Entry{DN: dn}
	all := len(attributes) == 0 || slices.Contains(attributes, "*")
	for _, a := range entry.Attributes {
		if all || containsFold(attributes, a.Name) {
			out.Attributes = append(out.Attributes, newAttribute(a.Name, a.Values...))
		}
	}
	return out
}

func copyEntry(entry *ldap.Entry) *ldap.Entry {
	return project(entry, nil, entry.DN)
}

func newAttribute(name string, values ...string) *ldap.EntryAttribute {
	byteValues := make([][]byte, len(values))
	for i, v := range values {
		byteValues[i] = []byte(v)
	}
	return &ldap.EntryAttribute{Name: name, Values: slices.Clone(values), ByteValues: byteValues}
}

func containsFold(values []string, want string) bool {
	return slices.ContainsFunc(values, func(v string) bool { return strings.EqualFold(v, want) })
}

// parse returns the normalized RDNs of dn, leaf first.
func parse(dn string) ([]string, error) {
	if dn == "" {
		return nil, nil
	}
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return nil, err
	}

	rdns := make([]string, len(parsed.RDNs))
	for i, rdn := range parsed.RDNs {
		parts := make([]string, len(rdn.Attributes))
		for j, a := range rdn.Attributes {
			parts[j] = strings.ToLower(a.Type) + "=" + strings.ToLower(a.Value)
		}
		slices.Sort(parts)
		rdns[i] = strings.Join(parts, "+")
	}
	return rdns, nil
}

func mustParse(dn string) []string {
	rdns, err := parse(dn)
	if err != nil {
		panic(fmt.Sprintf("ldaptest: invalid DN %q: %v", dn, err))
	}
	return rdns
}

func key(rdns []string) string {
	return strings.Join(rdns, "\x00")
}

func inScope(base, rdns []string, scope int) bool {
	switch scope {
	case ldap.ScopeBaseObject:
		return slices.Equal(base, rdns)
	case ldap.ScopeSingleLevel:
		return len(rdns) == len(base)+1 && slices.Equal(rdns[1:], base)
	default:
		return len(rdns) >= len(base) && slices.Equal(rdns[len(rdns)-len(base):], base)
	}
}

// relativeName strips the last baseLen RDNs from dn.
func relativeName(dn string, baseLen int) string {
	parsed, err := ldap.ParseDN(dn)
	if err != nil || len(parsed.RDNs) <= baseLen {
		return ""
	}
	return formatRDNs(parsed.RDNs[:len(parsed.RDNs)-baseLen])
}

func formatRDNs(rdns []*ldap.RelativeDN) string {
	parts := make([]string, 0, len(rdns))
	for _, rdn := range rdns {
		attrs := make([]string, 0, len(rdn.Attributes))
		for _, a := range rdn.Attributes {
			attrs = append(attrs, a.Type+"="+escapeValue(a.Value))
		}
		parts = append(parts, strings.Join(attrs, "+"))
	}
	return strings.Join(parts, ",")
}

func escapeValue(value string) string {
	var b strings.Builder
	for _, r := range value {
		if strings.ContainsRune(`,+"\<>;`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

package ldap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ErrorCategory represents different categories of LDAP errors.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryConflict       ErrorCategory = "conflict"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// ErrorKind is the closed set of failure kinds surfaced to callers.
type ErrorKind string

const (
	KindCommunication         ErrorKind = "communication"
	KindUnknownHost           ErrorKind = "unknown_host"
	KindAuthentication        ErrorKind = "authentication"
	KindNameNotFound          ErrorKind = "name_not_found"
	KindNoPermission          ErrorKind = "no_permission"
	KindInvalidAttribute      ErrorKind = "invalid_attribute"
	KindNameAlreadyBound      ErrorKind = "name_already_bound"
	KindContextNotEmpty       ErrorKind = "context_not_empty"
	KindOperationNotSupported ErrorKind = "operation_not_supported"
	KindReferral              ErrorKind = "referral"
	KindGeneric               ErrorKind = "generic"
	KindMissingDN             ErrorKind = "missing_dn"
	KindExhaustedCursor       ErrorKind = "exhausted_cursor"
	KindNotBound              ErrorKind = "not_bound"
)

// Local precondition failures. Match with errors.Is.
var (
	ErrMissingDN       = &LDAPError{Kind: KindMissingDN, Category: ErrorCategoryValidation, Message: "entry has no distinguished name"}
	ErrExhaustedCursor = &LDAPError{Kind: KindExhaustedCursor, Category: ErrorCategoryValidation, Message: "no more entries in result cursor"}
	ErrNotBound        = &LDAPError{Kind: KindNotBound, Category: ErrorCategoryConnection, Message: "connection has never been bound"}
)

// LDAPError provides enhanced error information for LDAP operations.
type LDAPError struct {
	Operation string        // The operation that failed
	Kind      ErrorKind     // Closed failure kind
	Category  ErrorCategory // Error category
	LDAPCode  uint16        // LDAP result code
	Message   string        // Human-readable message
	ServerMsg string        // Server-provided message
	DN        string        // DN involved in the operation (if applicable)
	Retryable bool          // Whether the error is retryable
	Cause     error         // Underlying error
}

func (e *LDAPError) Error() string {
	var parts []string

	op := e.Operation
	if op == "" {
		op = "operation"
	}

	if e.LDAPCode > 0 {
		parts = append(parts, fmt.Sprintf("LDAP %s failed (code %d)", op, e.LDAPCode))
	} else {
		parts = append(parts, fmt.Sprintf("LDAP %s failed", op))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.ServerMsg != "" && e.ServerMsg != e.Message {
		parts = append(parts, fmt.Sprintf("server: %s", e.ServerMsg))
	}

	if e.DN != "" {
		parts = append(parts, fmt.Sprintf("DN: %s", e.DN))
	}

	return strings.Join(parts, " - ")
}

func (e *LDAPError) IsRetryable() bool {
	return e.Retryable
}

func (e *LDAPError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is one of the package sentinels with the same kind.
func (e *LDAPError) Is(target error) bool {
	t, ok := target.(*LDAPError)
	if !ok || t.Operation != "" {
		return false
	}
	return t.Kind == e.Kind
}

// GetCategory returns the error category.
func (e *LDAPError) GetCategory() ErrorCategory {
	return e.Category
}

// GetLDAPCode returns the LDAP result code.
func (e *LDAPError) GetLDAPCode() uint16 {
	return e.LDAPCode
}

// ErrorOption refines the classification of a transport fault.
type ErrorOption func(*LDAPError)

// WithDN records the DN the failed operation targeted.
func WithDN(dn string) ErrorOption {
	return func(e *LDAPError) {
		if e.DN == "" {
			e.DN = dn
		}
	}
}

// withControls names the rejected capability when the server refuses a critical control.
func withControls(paging, sorting bool) ErrorOption {
	return func(e *LDAPError) {
		if e.Kind != KindOperationNotSupported {
			return
		}
		switch {
		case strings.Contains(e.ServerMsg, ldap.ControlTypePaging):
			e.Message = "The LDAP server does not support paging results"
		case strings.Contains(e.ServerMsg, ldap.ControlTypeServerSideSorting):
			e.Message = "The LDAP server does not support sorting results"
		case paging && sorting:
			e.Message = "The LDAP server does not support paging and/or sorting results"
		case paging:
			e.Message = "The LDAP server does not support paging results"
		case sorting:
			e.Message = "The LDAP server does not support sorting results"
		}
	}
}

// NewLDAPError classifies a transport fault. Errors that are already classified
// are returned unchanged apart from filling in missing context.
func NewLDAPError(operation string, err error, opts ...ErrorOption) *LDAPError {
	if err == nil {
		return nil
	}

	var classified *LDAPError
	if errors.As(err, &classified) {
		if classified.Operation == "" {
			classified = newLocalError(classified.Kind, operation, classified.Message)
		}
		for _, opt := range opts {
			opt(classified)
		}
		return classified
	}

	ldapErr := &LDAPError{
		Operation: operation,
		Cause:     err,
	}

	// Extract LDAP-specific information
	var ldapResultErr *ldap.Error
	if errors.As(err, &ldapResultErr) {
		ldapErr.LDAPCode = ldapResultErr.ResultCode
		if ldapResultErr.Err != nil {
			ldapErr.ServerMsg = ldapResultErr.Err.Error()
		}
		ldapErr.DN = ldapResultErr.MatchedDN
		ldapErr.Kind = kindForCode(ldapResultErr.ResultCode)
		ldapErr.Category = categorizeError(ldapResultErr.ResultCode)
		ldapErr.Retryable = isLDAPCodeRetryable(ldapResultErr.ResultCode)
		ldapErr.Message = getLDAPCodeMessage(ldapResultErr.ResultCode)
	} else {
		// Non-LDAP error, categorize by error type and message
		ldapErr.Kind = kindForGenericError(err)
		ldapErr.Category = categorizeGenericError(err)
		ldapErr.Retryable = isGenericErrorRetryable(err)
		ldapErr.Message = err.Error()
	}

	if ldapErr.Kind == KindCommunication {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && !dnsErr.IsTemporary {
			ldapErr.Kind = KindUnknownHost
			ldapErr.Retryable = false
			ldapErr.Message = fmt.Sprintf("unknown host %s", dnsErr.Name)
		}
	}

	for _, opt := range opts {
		opt(ldapErr)
	}

	return ldapErr
}

func newLocalError(kind ErrorKind, operation, message string) *LDAPError {
	category := ErrorCategoryValidation
	if kind == KindNotBound {
		category = ErrorCategoryConnection
	}
	return &LDAPError{
		Operation: operation,
		Kind:      kind,
		Category:  category,
		Message:   message,
	}
}

// kindForCode maps an LDAP result code onto the closed failure kinds.
func kindForCode(code uint16) ErrorKind {
	switch code {
	case ldap.LDAPResultInvalidCredentials,
		ldap.LDAPResultInappropriateAuthentication,
		ldap.LDAPResultAuthMethodNotSupported,
		ldap.LDAPResultStrongAuthRequired,
		ldap.ErrorEmptyPassword:
		return KindAuthentication

	case ldap.LDAPResultNoSuchObject:
		return KindNameNotFound

	case ldap.LDAPResultInsufficientAccessRights:
		return KindNoPermission

	case ldap.LDAPResultNoSuchAttribute,
		ldap.LDAPResultUndefinedAttributeType,
		ldap.LDAPResultAttributeOrValueExists,
		ldap.LDAPResultInvalidAttributeSyntax,
		ldap.LDAPResultInappropriateMatching,
		ldap.LDAPResultConstraintViolation,
		ldap.LDAPResultObjectClassViolation,
		ldap.LDAPResultObjectClassModsProhibited:
		return KindInvalidAttribute

	case ldap.LDAPResultEntryAlreadyExists:
		return KindNameAlreadyBound

	case ldap.LDAPResultNotAllowedOnNonLeaf:
		return KindContextNotEmpty

	case ldap.LDAPResultUnavailableCriticalExtension:
		return KindOperationNotSupported

	case ldap.LDAPResultReferral:
		return KindReferral

	case ldap.LDAPResultServerDown,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultConnectError,
		ldap.LDAPResultTimeout,
		ldap.ErrorNetwork:
		return KindCommunication

	default:
		return KindGeneric
	}
}

// kindForGenericError maps errors that did not come back as an LDAP result.
func kindForGenericError(err error) ErrorKind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindCommunication
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return KindCommunication
	}

	if categorizeGenericError(err) == ErrorCategoryConnection {
		return KindCommunication
	}

	return KindGeneric
}

// categorizeError categorizes an error based on LDAP result code.
func categorizeError(code uint16) ErrorCategory {
	switch code {
	case ldap.LDAPResultSuccess:
		return ErrorCategoryUnknown

	case ldap.LDAPResultInvalidCredentials,
		ldap.LDAPResultInappropriateAuthentication,
		ldap.LDAPResultAuthMethodNotSupported,
		ldap.LDAPResultStrongAuthRequired,
		ldap.ErrorEmptyPassword:
		return ErrorCategoryAuthentication

	case ldap.LDAPResultInsufficientAccessRights,
		ldap.LDAPResultUnwillingToPerform:
		return ErrorCategoryPermission

	case ldap.LDAPResultNoSuchObject,
		ldap.LDAPResultNoSuchAttribute,
		ldap.LDAPResultUndefinedAttributeType:
		return ErrorCategoryNotFound

	case ldap.LDAPResultEntryAlreadyExists,
		ldap.LDAPResultAttributeOrValueExists,
		ldap.LDAPResultObjectClassViolation,
		ldap.LDAPResultNotAllowedOnNonLeaf:
		return ErrorCategoryConflict

	case ldap.LDAPResultInvalidAttributeSyntax,
		ldap.LDAPResultConstraintViolation,
		ldap.LDAPResultInvalidDNSyntax,
		ldap.LDAPResultNamingViolation,
		ldap.ErrorFilterCompile:
		return ErrorCategoryValidation

	case ldap.LDAPResultBusy,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultAdminLimitExceeded,
		ldap.LDAPResultUnavailableCriticalExtension:
		return ErrorCategoryServer

	case ldap.LDAPResultServerDown,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultConnectError,
		ldap.LDAPResultProtocolError,
		ldap.LDAPResultTimeout,
		ldap.ErrorNetwork:
		return ErrorCategoryConnection

	default:
		return ErrorCategoryUnknown
	}
}

// categorizeGenericError categorizes non-LDAP errors.
func categorizeGenericError(err error) ErrorCategory {
	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "no such host") {
		return ErrorCategoryConnection
	}

	if strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "credentials") {
		return ErrorCategoryAuthentication
	}

	if strings.Contains(errStr, "permission") ||
		strings.Contains(errStr, "denied") {
		return ErrorCategoryPermission
	}

	return ErrorCategoryUnknown
}

// isLDAPCodeRetryable determines if an LDAP error code indicates a retryable condition.
func isLDAPCodeRetryable(code uint16) bool {
	switch code {
	case ldap.LDAPResultBusy,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultServerDown,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultConnectError,
		ldap.LDAPResultTimeout,
		ldap.ErrorNetwork:
		return true
	default:
		return false
	}
}

// isGenericErrorRetryable determines if a generic error is retryable.
func isGenericErrorRetryable(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}

	errStr := strings.ToLower(err.Error())

	retryablePatterns := []string{
		"connection",
		"timeout",
		"network",
		"broken pipe",
		"temporary failure",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// getLDAPCodeMessage returns a human-readable message for an LDAP result code.
func getLDAPCodeMessage(code uint16) string {
	switch code {
	case ldap.LDAPResultOperationsError:
		return "LDAP operations error"
	case ldap.LDAPResultProtocolError:
		return "LDAP protocol error"
	case ldap.LDAPResultTimeLimitExceeded:
		return "LDAP time limit exceeded"
	case ldap.LDAPResultSizeLimitExceeded:
		return "LDAP size limit exceeded"
	case ldap.LDAPResultAuthMethodNotSupported:
		return "Authentication method not supported"
	case ldap.LDAPResultStrongAuthRequired:
		return "Strong authentication required"
	case ldap.LDAPResultReferral:
		return "LDAP referral"
	case ldap.LDAPResultAdminLimitExceeded:
		return "Administrative limit exceeded"
	case ldap.LDAPResultUnavailableCriticalExtension:
		return "Critical extension unavailable"
	case ldap.LDAPResultNoSuchAttribute:
		return "Attribute or value does not exist"
	case ldap.LDAPResultUndefinedAttributeType:
		return "Attribute type is not defined"
	case ldap.LDAPResultInappropriateMatching:
		return "Inappropriate matching rule"
	case ldap.LDAPResultConstraintViolation:
		return "Constraint violation"
	case ldap.LDAPResultAttributeOrValueExists:
		return "Attribute or value already exists"
	case ldap.LDAPResultInvalidAttributeSyntax:
		return "Invalid attribute syntax"
	case ldap.LDAPResultNoSuchObject:
		return "Requested object does not exist"
	case ldap.LDAPResultInvalidDNSyntax:
		return "Invalid DN syntax"
	case ldap.LDAPResultInappropriateAuthentication:
		return "Inappropriate authentication method"
	case ldap.LDAPResultInvalidCredentials:
		return "Invalid credentials"
	case ldap.LDAPResultInsufficientAccessRights:
		return "Insufficient access rights"
	case ldap.LDAPResultBusy:
		return "Server is busy"
	case ldap.LDAPResultUnavailable:
		return "Server is unavailable"
	case ldap.LDAPResultUnwillingToPerform:
		return "Server is unwilling to perform the operation"
	case ldap.LDAPResultNamingViolation:
		return "Naming violation"
	case ldap.LDAPResultObjectClassViolation:
		return "Object class violation"
	case ldap.LDAPResultNotAllowedOnNonLeaf:
		return "Operation not allowed on non-leaf entry"
	case ldap.LDAPResultNotAllowedOnRDN:
		return "Operation not allowed on RDN"
	case ldap.LDAPResultEntryAlreadyExists:
		return "Entry already exists"
	case ldap.LDAPResultObjectClassModsProhibited:
		return "Object class modifications prohibited"
	case ldap.LDAPResultServerDown:
		return "Server is down"
	case ldap.LDAPResultTimeout:
		return "Operation timed out"
	case ldap.LDAPResultFilterError:
		return "Invalid search filter"
	case ldap.LDAPResultConnectError:
		return "Connection error"
	case ldap.ErrorNetwork:
		return "Network error"
	case ldap.ErrorFilterCompile:
		return "Search filter could not be compiled"
	case ldap.ErrorEmptyPassword:
		return "Empty password not allowed"
	default:
		return fmt.Sprintf("LDAP error (code %d)", code)
	}
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	return isGenericErrorRetryable(err)
}

// KindOf returns the failure kind of an error, or KindGeneric for unclassified errors.
func KindOf(err error) ErrorKind {
	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		return ldapErr.Kind
	}
	return KindGeneric
}

// IsKind reports whether err was classified as kind.
func IsKind(err error, kind ErrorKind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// GetErrorCategory returns the category of an error.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		return ldapErr.GetCategory()
	}

	// Check for raw go-ldap library errors
	var ldapResultErr *ldap.Error
	if errors.As(err, &ldapResultErr) {
		return categorizeError(ldapResultErr.ResultCode)
	}

	return categorizeGenericError(err)
}

// IsNotFoundError checks if an error indicates the target entry does not exist.
func IsNotFoundError(err error) bool {
	return IsKind(err, KindNameNotFound)
}

// IsInvalidAttributeError checks if an error indicates an attribute structure violation.
func IsInvalidAttributeError(err error) bool {
	return IsKind(err, KindInvalidAttribute)
}

// IsAuthenticationError checks if an error indicates an authentication problem.
func IsAuthenticationError(err error) bool {
	return IsKind(err, KindAuthentication)
}

// IsCommunicationError checks if an error indicates the directory could not be reached.
// Unknown hosts are a refinement of communication failures.
func IsCommunicationError(err error) bool {
	kind := KindOf(err)
	return kind == KindCommunication || kind == KindUnknownHost
}

// Classify is NewLDAPError for call sites that return a plain error.
// A nil err stays a nil interface.
func Classify(operation string, err error, opts ...ErrorOption) error {
	if err == nil {
		return nil
	}
	return NewLDAPError(operation, err, opts...)
}

package wire

import "fmt"

// ResultCode is the status byte returned by the server for every command.
type ResultCode uint8

const (
	ResultOk                   ResultCode = 0
	ResultServerError          ResultCode = 1
	ResultKeyNotFound          ResultCode = 2
	ResultGenerationError      ResultCode = 3
	ResultParameterError       ResultCode = 4
	ResultKeyExists            ResultCode = 5
	ResultBinExists            ResultCode = 6
	ResultClusterKeyMismatch   ResultCode = 7
	ResultServerMemoryError    ResultCode = 8
	ResultTimeout              ResultCode = 9
	ResultAlwaysForbidden      ResultCode = 10
	ResultPartitionUnavailable ResultCode = 11
	ResultBinTypeError         ResultCode = 12
	ResultRecordTooBig         ResultCode = 13
	ResultKeyBusy              ResultCode = 14
	ResultScanAborted          ResultCode = 15
	ResultUnsupportedFeature   ResultCode = 16
	ResultBinNotFound          ResultCode = 17
	ResultDeviceOverload       ResultCode = 18
	ResultKeyMismatch          ResultCode = 19
	ResultInvalidNamespace     ResultCode = 20
	ResultBinNameTooLong       ResultCode = 21
	ResultFailForbidden        ResultCode = 22
	ResultElementNotFound      ResultCode = 23
	ResultElementExists        ResultCode = 24
	ResultEnterpriseOnly       ResultCode = 25
	ResultOpNotApplicable      ResultCode = 26
	ResultFilteredOut          ResultCode = 27
	ResultLostConflict         ResultCode = 28

	ResultSecurityNotSupported ResultCode = 51
	ResultSecurityNotEnabled   ResultCode = 52
	ResultSecuritySchemeError  ResultCode = 53
	ResultInvalidCommand       ResultCode = 54
	ResultInvalidField         ResultCode = 55
	ResultIllegalState         ResultCode = 56
	ResultInvalidUser          ResultCode = 60
	ResultUserAlreadyExists    ResultCode = 61
	ResultInvalidPassword      ResultCode = 62
	ResultExpiredPassword      ResultCode = 63
	ResultForbiddenPassword    ResultCode = 64
	ResultInvalidCredential    ResultCode = 65
	ResultInvalidRole          ResultCode = 70
	ResultRoleAlreadyExists    ResultCode = 71
	ResultInvalidPrivilege     ResultCode = 72
	ResultNotAuthenticated     ResultCode = 80
	ResultRoleViolation        ResultCode = 81
)

// IsRetryable reports whether a command that failed with this code may
// succeed on another attempt without any cluster change.
func (rc ResultCode) IsRetryable() bool {
	switch rc {
	case ResultTimeout, ResultKeyBusy, ResultDeviceOverload, ResultServerMemoryError:
		return true
	}
	return false
}

// IsTopologyStale reports whether this code indicates the client's view
// of the cluster is outdated. The executor triggers an out of cycle tend
// before retrying these.
func (rc ResultCode) IsTopologyStale() bool {
	switch rc {
	case ResultClusterKeyMismatch, ResultPartitionUnavailable:
		return true
	}
	return false
}

func (rc ResultCode) String() string {
	switch rc {
	case ResultOk:
		return "ok"
	case ResultServerError:
		return "server error"
	case ResultKeyNotFound:
		return "key not found"
	case ResultGenerationError:
		return "generation error"
	case ResultParameterError:
		return "parameter error"
	case ResultKeyExists:
		return "key already exists"
	case ResultBinExists:
		return "bin already exists"
	case ResultClusterKeyMismatch:
		return "cluster key mismatch"
	case ResultServerMemoryError:
		return "server memory error"
	case ResultTimeout:
		return "timeout"
	case ResultAlwaysForbidden:
		return "operation not allowed"
	case ResultPartitionUnavailable:
		return "partition unavailable"
	case ResultBinTypeError:
		return "bin type error"
	case ResultRecordTooBig:
		return "record too big"
	case ResultKeyBusy:
		return "hot key"
	case ResultScanAborted:
		return "scan aborted"
	case ResultUnsupportedFeature:
		return "unsupported feature"
	case ResultBinNotFound:
		return "bin not found"
	case ResultDeviceOverload:
		return "device overload"
	case ResultKeyMismatch:
		return "key mismatch"
	case ResultInvalidNamespace:
		return "invalid namespace"
	case ResultBinNameTooLong:
		return "bin name too long"
	case ResultFailForbidden:
		return "operation forbidden"
	case ResultElementNotFound:
		return "element not found"
	case ResultElementExists:
		return "element already exists"
	case ResultEnterpriseOnly:
		return "enterprise only feature"
	case ResultOpNotApplicable:
		return "operation not applicable"
	case ResultFilteredOut:
		return "filtered out"
	case ResultLostConflict:
		return "lost conflict"
	case ResultSecurityNotSupported:
		return "security not supported"
	case ResultSecurityNotEnabled:
		return "security not enabled"
	case ResultSecuritySchemeError:
		return "security scheme not supported"
	case ResultInvalidCommand:
		return "invalid command"
	case ResultInvalidField:
		return "invalid field"
	case ResultIllegalState:
		return "illegal security state"
	case ResultInvalidUser:
		return "invalid user"
	case ResultUserAlreadyExists:
		return "user already exists"
	case ResultInvalidPassword:
		return "invalid password"
	case ResultExpiredPassword:
		return "expired password"
	case ResultForbiddenPassword:
		return "forbidden password"
	case ResultInvalidCredential:
		return "invalid credential"
	case ResultInvalidRole:
		return "invalid role"
	case ResultRoleAlreadyExists:
		return "role already exists"
	case ResultInvalidPrivilege:
		return "invalid privilege"
	case ResultNotAuthenticated:
		return "not authenticated"
	case ResultRoleViolation:
		return "role violation"
	default:
		return fmt.Sprintf("result code %d", uint8(rc))
	}
}

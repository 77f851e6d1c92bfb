package transport

import "fmt"

// StatusCode is a protocol status carried in Error frames, Abort chunks and
// open secure channel responses.
type StatusCode uint32

// Status codes used by the secure conversation layer.
const (
	StatusGood StatusCode = 0x00000000

	StatusBadUnexpectedError            StatusCode = 0x80010000
	StatusBadCommunicationError         StatusCode = 0x80050000
	StatusBadEncodingError              StatusCode = 0x80060000
	StatusBadDecodingError              StatusCode = 0x80070000
	StatusBadEncodingLimitsExceeded     StatusCode = 0x80080000
	StatusBadTimeout                    StatusCode = 0x800A0000
	StatusBadCertificateInvalid         StatusCode = 0x80120000
	StatusBadSecurityChecksFailed       StatusCode = 0x80130000
	StatusBadSecureChannelIDInvalid     StatusCode = 0x80220000
	StatusBadNonceInvalid               StatusCode = 0x80240000
	StatusBadSecurityModeRejected       StatusCode = 0x80540000
	StatusBadSecurityPolicyRejected     StatusCode = 0x80550000
	StatusBadTCPMessageTypeInvalid      StatusCode = 0x807E0000
	StatusBadTCPSecureChannelUnknown    StatusCode = 0x807F0000
	StatusBadTCPMessageTooLarge         StatusCode = 0x80800000
	StatusBadTCPInternalError           StatusCode = 0x80820000
	StatusBadTCPEndpointURLInvalid      StatusCode = 0x80830000
	StatusBadSecureChannelClosed        StatusCode = 0x80860000
	StatusBadSecureChannelTokenUnknown  StatusCode = 0x80870000
	StatusBadSequenceNumberInvalid      StatusCode = 0x80880000
	StatusBadProtocolVersionUnsupported StatusCode = 0x80BE0000
	StatusBadConnectionClosed           StatusCode = 0x80AE0000
	StatusBadInvalidState               StatusCode = 0x80AF0000
	StatusBadRequestTooLarge            StatusCode = 0x80B80000
	StatusBadResponseTooLarge           StatusCode = 0x80B90000
)

var statusNames = map[StatusCode]string{
	StatusGood:                          "Good",
	StatusBadUnexpectedError:            "BadUnexpectedError",
	StatusBadCommunicationError:         "BadCommunicationError",
	StatusBadEncodingError:              "BadEncodingError",
	StatusBadDecodingError:              "BadDecodingError",
	StatusBadEncodingLimitsExceeded:     "BadEncodingLimitsExceeded",
	StatusBadTimeout:                    "BadTimeout",
	StatusBadCertificateInvalid:         "BadCertificateInvalid",
	StatusBadSecurityChecksFailed:       "BadSecurityChecksFailed",
	StatusBadSecureChannelIDInvalid:     "BadSecureChannelIdInvalid",
	StatusBadNonceInvalid:               "BadNonceInvalid",
	StatusBadSecurityModeRejected:       "BadSecurityModeRejected",
	StatusBadSecurityPolicyRejected:     "BadSecurityPolicyRejected",
	StatusBadTCPMessageTypeInvalid:      "BadTcpMessageTypeInvalid",
	StatusBadTCPSecureChannelUnknown:    "BadTcpSecureChannelUnknown",
	StatusBadTCPMessageTooLarge:         "BadTcpMessageTooLarge",
	StatusBadTCPInternalError:           "BadTcpInternalError",
	StatusBadTCPEndpointURLInvalid:      "BadTcpEndpointUrlInvalid",
	StatusBadSecureChannelClosed:        "BadSecureChannelClosed",
	StatusBadSecureChannelTokenUnknown:  "BadSecureChannelTokenUnknown",
	StatusBadSequenceNumberInvalid:      "BadSequenceNumberInvalid",
	StatusBadProtocolVersionUnsupported: "BadProtocolVersionUnsupported",
	StatusBadConnectionClosed:           "BadConnectionClosed",
	StatusBadInvalidState:               "BadInvalidState",
	StatusBadRequestTooLarge:            "BadRequestTooLarge",
	StatusBadResponseTooLarge:           "BadResponseTooLarge",
}

// String returns the symbolic name of the status code.
func (s StatusCode) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("StatusCode(0x%08X)", uint32(s))
}

// IsGood reports whether the status indicates success.
func (s StatusCode) IsGood() bool { return s&0x80000000 == 0 }

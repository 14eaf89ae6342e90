package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Contest lifecycle errors
// 12000-12999: Registration & Participation errors
// 13000-13999: Submission & Judge errors
// 14000-14999: Problem & Test data errors
// 15000-15999: Ranking & Leaderboard errors
// 16000-16999: Real-time channel errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheMiss      ErrorCode = 10201
	CacheSetFailed ErrorCode = 10202
	LockFailed     ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Contest Lifecycle Errors (11000-11999) ==========

	// Contest basic (11000-11099)
	ContestNotFound     ErrorCode = 11000
	ContestNotStarted   ErrorCode = 11001
	ContestEnded        ErrorCode = 11002
	ContestCancelled    ErrorCode = 11003
	ContestCreateFailed ErrorCode = 11004
	ContestUpdateFailed ErrorCode = 11005

	// State machine (11100-11199)
	IllegalTransition    ErrorCode = 11100
	ContestHasNoProblems ErrorCode = 11101
	InvalidSchedule      ErrorCode = 11102
	ContestNotEditable   ErrorCode = 11103
	TooManyProblems      ErrorCode = 11104

	// ========== Registration & Participation Errors (12000-12999) ==========

	// Registration (12000-12099)
	AlreadyRegistered      ErrorCode = 12000
	NotRegistered          ErrorCode = 12001
	RegistrationClosed     ErrorCode = 12002
	RegistrationFailed     ErrorCode = 12003
	LateJoinDisabled       ErrorCode = 12004
	LateJoinDeadlinePassed ErrorCode = 12005

	// Participation (12100-12199)
	ParticipantDisqualified ErrorCode = 12100
	NotParticipating        ErrorCode = 12101

	// ========== Submission & Judge Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	CodeTooLarge           ErrorCode = 13002
	LanguageNotSupported   ErrorCode = 13003
	ProblemNotInContest    ErrorCode = 13004

	// Judge (13100-13199)
	JudgeQueueFull      ErrorCode = 13100
	JudgeSystemError    ErrorCode = 13101
	ExecutorUnavailable ErrorCode = 13102
	OutputLimitExceeded ErrorCode = 13103

	// ========== Problem & Test Data Errors (14000-14999) ==========

	// Problem basic (14000-14099)
	ProblemNotFound ErrorCode = 14000

	// Test data (14100-14199)
	TestDataUnavailable ErrorCode = 14100
	TestDataCorrupted   ErrorCode = 14101

	// Generators (14200-14299)
	GeneratorNotFound ErrorCode = 14200

	// ========== Ranking & Leaderboard Errors (15000-15999) ==========

	RankingUnavailable  ErrorCode = 15000
	RankingNotInitiated ErrorCode = 15001
	RankingFrozen       ErrorCode = 15002

	// ========== Real-time Channel Errors (16000-16999) ==========

	// Token (16000-16099)
	TokenInvalid ErrorCode = 16000
	TokenExpired ErrorCode = 16001

	// Connection (16100-16199)
	RoomNotJoined    ErrorCode = 16100
	ConnectionClosed ErrorCode = 16101
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	// Cache
	CacheError:     "Cache operation failed",
	CacheMiss:      "Cache miss",
	CacheSetFailed: "Failed to set cache",
	LockFailed:     "Failed to acquire lock",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Contest
	ContestNotFound:     "Contest not found",
	ContestNotStarted:   "Contest has not started yet",
	ContestEnded:        "Contest has ended",
	ContestCancelled:    "Contest has been cancelled",
	ContestCreateFailed: "Failed to create contest",
	ContestUpdateFailed: "Failed to update contest",

	// State machine
	IllegalTransition:    "Illegal contest state transition",
	ContestHasNoProblems: "Contest has no problems assigned",
	InvalidSchedule:      "Contest schedule is invalid",
	ContestNotEditable:   "Contest can no longer be edited",
	TooManyProblems:      "Contest exceeds the problem limit",

	// Registration
	AlreadyRegistered:      "Already registered for this contest",
	NotRegistered:          "Not registered for this contest",
	RegistrationClosed:     "Registration is closed",
	RegistrationFailed:     "Registration failed",
	LateJoinDisabled:       "Late join is not allowed for this contest",
	LateJoinDeadlinePassed: "Late join deadline has passed",

	// Participation
	ParticipantDisqualified: "Participant has been disqualified",
	NotParticipating:        "User has not joined this contest",

	// Submission
	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	CodeTooLarge:           "Code is too large",
	LanguageNotSupported:   "Programming language not supported",
	ProblemNotInContest:    "Problem does not belong to this contest",

	// Judge
	JudgeQueueFull:      "Judge queue is full, please try again later",
	JudgeSystemError:    "Judge system error",
	ExecutorUnavailable: "Code execution service unavailable",
	OutputLimitExceeded: "Output limit exceeded",

	// Problem & Test data
	ProblemNotFound:     "Problem not found",
	TestDataUnavailable: "Test data is unavailable",
	TestDataCorrupted:   "Test data failed integrity check",
	GeneratorNotFound:   "No test generator registered for problem",

	// Ranking
	RankingUnavailable:  "Ranking is not available",
	RankingNotInitiated: "Ranking has not been initialized",
	RankingFrozen:       "Ranking is frozen",

	// Real-time
	TokenInvalid:     "Invalid token",
	TokenExpired:     "Token has expired",
	RoomNotJoined:    "Connection has not joined this contest room",
	ConnectionClosed: "Connection closed",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return 401
	case c == Forbidden, c == ParticipantDisqualified:
		return 403
	case c == NotFound, c == RecordNotFound, c == ContestNotFound, c == ProblemNotFound, c == SubmissionNotFound:
		return 404
	case c == RecordAlreadyExists, c == AlreadyRegistered, c == IllegalTransition:
		return 409
	case c == TooManyRequests, c == JudgeQueueFull:
		return 429
	case c == ServiceUnavailable, c == ExecutorUnavailable, c == RankingUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == CodeTooLarge, c == LanguageNotSupported, c == InvalidSchedule:
		return 400
	default:
		return 500
	}
}

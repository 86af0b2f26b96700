package quote

// Aliases for helpers used by the external quote_test package.
var (
	TestLogger = testLogger
	FastPolicy = fastPolicy
)

const SampleQuote = sampleQuote

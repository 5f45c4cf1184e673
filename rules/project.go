//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// StdlibLogging flags the standard log package and bare prints in internal
// packages. Use the module logger from the package's GetLogger.
func StdlibLogging(m dsl.Matcher) {
	m.Match(
		`log.Printf($*_)`,
		`log.Println($*_)`,
		`log.Print($*_)`,
		`log.Fatalf($*_)`,
		`log.Fatal($*_)`,
	).
		Where(m.File().Imports("log") && m.File().PkgPath.Matches(`/internal/`)).
		Report("use the package logger instead of the standard log package")

	m.Match(
		`fmt.Printf($*_)`,
		`fmt.Println($*_)`,
	).
		Where(m.File().PkgPath.Matches(`/internal/`) && !m.File().Name.Matches(`_test\.go$`)).
		Report("internal packages must not print to stdout, use the package logger")
}

// ErrorsPackage flags the standard errors constructor outside internal/errors.
func ErrorsPackage(m dsl.Matcher) {
	m.Import("errors")

	m.Match(`errors.New($msg)`).
		Where(m["msg"].Type.Is("string") &&
			m.File().Imports("errors") &&
			!m.File().PkgPath.Matches(`/internal/errors$`)).
		Report("use errors.NewStd from internal/errors, or errors.Newf with a category")
}

// LoggerFieldAny flags logger.Any for values with a typed constructor.
func LoggerFieldAny(m dsl.Matcher) {
	m.Match(`logger.Any($key, $v)`).
		Where(m["v"].Type.Is("string")).
		Report("use logger.String($key, $v)").
		Suggest("logger.String($key, $v)")

	m.Match(`logger.Any($key, $v)`).
		Where(m["v"].Type.Is("int")).
		Report("use logger.Int($key, $v)").
		Suggest("logger.Int($key, $v)")

	m.Match(`logger.Any($key, $v)`).
		Where(m["v"].Type.Is("time.Duration")).
		Report("use logger.Duration($key, $v)").
		Suggest("logger.Duration($key, $v)")
}

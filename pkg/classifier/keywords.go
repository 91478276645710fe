package classifier

// Curated keyword buckets. A request's complexity is the bucket with the
// most token matches; ties resolve toward moderate.
var (
	simpleKeywords = []string{
		"check", "status", "show", "list", "get", "display", "view",
		"ping", "version", "uptime", "whoami", "date", "hostname",
	}
	moderateKeywords = []string{
		"restart", "start", "stop", "install", "update", "upgrade",
		"configure", "deploy", "backup", "restore", "clean", "cleanup",
		"rotate", "enable", "disable", "mount", "sync",
	}
	complexKeywords = []string{
		"migrate", "troubleshoot", "debug", "diagnose", "analyze",
		"analyse", "analysis", "optimize", "investigate", "audit",
		"harden", "benchmark", "recover", "orchestrate", "correlate",
	}
)

// multiTargetKeywords mark a request as fleet-wide.
var multiTargetKeywords = []string{
	"all", "every", "each", "hosts", "servers", "machines", "across", "multiple",
}

// vagueVerbs starting a request suggest the user has not said what to do.
var vagueVerbs = []string{"make", "do", "perform", "execute", "run"}

// targetPrepositions signal that a request names its target.
var targetPrepositions = []string{"on", "of"}

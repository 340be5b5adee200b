package features

// Token families matched case-insensitively against the decoded path, query
// string and body. Tokens are lower case.
const (
	FamilySQLInjection  = "sql_injection"
	FamilyXSS           = "xss"
	FamilyPathTraversal = "path_traversal"
	FamilyCommand       = "command_injection"
)

type family struct {
	name    string
	feature string
	tokens  []string
}

var families = []family{
	{
		name:    FamilySQLInjection,
		feature: FeatureSQLiTokens,
		tokens: []string{
			"union", "select", "or 1=1", "' or '", "'='", "--", "/*",
			"drop table", "insert into", "sleep(", "benchmark(",
			"xp_cmdshell", "information_schema",
		},
	},
	{
		name:    FamilyXSS,
		feature: FeatureXSSTokens,
		tokens: []string{
			"<script", "javascript:", "vbscript:", "onerror=", "onload=",
			"<iframe", "<img", "<svg", "alert(", "document.cookie",
		},
	},
	{
		name:    FamilyPathTraversal,
		feature: FeatureTraversalTokens,
		tokens: []string{
			"../", "..\\", "%2e%2e", "%252e", "..%2f", "%c0%ae",
			"/etc/passwd", "c:\\windows",
		},
	},
	{
		name:    FamilyCommand,
		feature: FeatureCommandTokens,
		tokens: []string{
			"; ls", "| cat", "`", "$(", "/bin/sh", "cmd.exe", "wget ", "curl ",
		},
	},
}

// FamilyOf returns the token family counted by a feature, if any.
func FamilyOf(feature string) (string, bool) {
	for _, f := range families {
		if f.feature == feature {
			return f.name, true
		}
	}
	return "", false
}

const specialChars = "'\"<>;()|&$%`{}[]\\"

package policy

import "regexp"

type denyPattern struct {
	name string
	re   *regexp.Regexp
}

// hardDeny is compiled into the binary and has no configuration surface: a policy
// file, however permissive, cannot re-enable any of these.
var hardDeny = []denyPattern{
	// recursive delete
	{"recursive delete", regexp.MustCompile(`\brm\s+(?:[^|;&]*\s)?-[a-zA-Z]*[rR]`)},
	{"recursive delete", regexp.MustCompile(`\brm\b[^|;&]*\s--recursive\b`)},
	{"recursive delete", regexp.MustCompile(`\bfind\b[^|;&]*\s-delete\b`)},

	// world-writable / setuid permissions
	{"chmod 777", regexp.MustCompile(`\bchmod\s+(?:-\S+\s+)*0?777\b`)},
	{"chmod 777", regexp.MustCompile(`\bchmod\s+(?:-\S+\s+)*a\+rwx\b`)},
	{"setuid bit", regexp.MustCompile(`\bchmod\s+(?:-\S+\s+)*[ugoa]*\+[rwx]*s`)},

	// remote code piped into a shell
	{"pipe to shell", regexp.MustCompile(`\b(?:curl|wget|fetch)\b.*\|\s*(?:sudo\s+)?(?:ba|z|da|k)?sh\b`)},
	{"pipe to shell", regexp.MustCompile(`\b(?:ba|z|da)?sh\s+-c\s+["']?\$\((?:curl|wget)\b`)},

	// fork bombs
	{"fork bomb", regexp.MustCompile(`:\(\)\s*\{.*:\s*\|\s*:.*&.*\}\s*;\s*:`)},
	{"fork bomb", regexp.MustCompile(`(?i)\bfork\s*bomb\b`)},

	// filesystem / raw device destruction
	{"filesystem format", regexp.MustCompile(`\bmkfs(?:\.\w+)?\b`)},
	{"raw device write", regexp.MustCompile(`\bdd\b.*\bof=/dev/`)},
	{"raw device write", regexp.MustCompile(`>\s*/dev/(?:sd|hd|nvme|xvd|vd|mmcblk)[a-z0-9]*`)},
	{"raw device write", regexp.MustCompile(`\b(?:wipefs|shred)\b`)},

	// power state
	{"shutdown", regexp.MustCompile(`\b(?:shutdown|reboot|halt|poweroff)\b`)},
	{"shutdown", regexp.MustCompile(`\binit\s+[06]\b`)},
	{"shutdown", regexp.MustCompile(`\bsystemctl\s+(?:poweroff|reboot|halt|kexec)\b`)},

	// privilege escalation
	{"privilege escalation", regexp.MustCompile(`\b(?:sudo|doas|pkexec)\b`)},
	{"privilege escalation", regexp.MustCompile(`(?:^|[;&|]\s*)su(?:\s+-\S*)?(?:\s+root)?\s*$`)},
	{"privilege escalation", regexp.MustCompile(`(?:^|[;&|]\s*)su\s+-\s`)},
	{"privilege escalation", regexp.MustCompile(`(?:^|[;&|]\s*)(?:passwd|chpasswd|visudo|usermod)\b`)},

	// reverse shells
	{"reverse shell", regexp.MustCompile(`\b(?:nc|ncat|netcat)\s+(?:\S+\s+)*-[a-zA-Z]*[le]`)},
	{"reverse shell", regexp.MustCompile(`/dev/(?:tcp|udp)/`)},
	{"reverse shell", regexp.MustCompile(`\bsocat\b.*\bexec:`)},

	// covering tracks
	{"history tampering", regexp.MustCompile(`\bhistory\s+-c\b`)},
	{"history tampering", regexp.MustCompile(`\bunset\s+HISTFILE\b`)},
	{"background detach", regexp.MustCompile(`>\s*/dev/null\s+2>&1\s*&\s*$`)},
}

// matchHardDeny returns the name of the first hard-deny pattern cmd matches.
func matchHardDeny(cmd string) (string, bool) {
	for _, p := range hardDeny {
		if p.re.MatchString(cmd) {
			return p.name, true
		}
	}
	return "", false
}

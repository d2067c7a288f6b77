// Package checker implements the network-facing scanning modules of secscan.
//
// Architecture overview:
//
//   - Network modules implement the Checker interface (Check + Name) and
//     return a ModuleResult. HeaderChecker, TLSChecker, VulnerabilityChecker
//     and CORSChecker never return errors: an unreachable target becomes a
//     finding or a success=false result so a scan always completes.
//   - Pure analyzers (AnalyzeSecurityHeaders, AnalyzeCORS, AnalyzeCookies,
//     AnalyzeJWT, ScanSensitiveData) hold the detection rules and perform no
//     I/O, so they can be tested against fixed inputs.
//   - Detection rules are data: the header policy table, payload lists, the
//     sensitive path list and the secret pattern set.
//   - Runner coordinates one checker across many targets with bounded
//     concurrency and a global rate limit; cmd/ uses it for multi-target
//     check commands.
//
// Every HTTP module uses NewHTTPClient, which caps redirects and applies the
// per-module timeout, and every request honors the caller's context.
package checker

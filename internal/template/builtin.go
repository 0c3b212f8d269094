package template

// Built-in template catalogue.
//
// Placeholder values are substituted once; a substituted value is never
// re-scanned, so callers cannot smuggle new placeholders in through values.
//
// "custom" is the one deliberate exception to the template-only guarantee:
// its single {message} placeholder forwards caller-supplied text verbatim.
// Every other pattern is authored here (or in the operator's templates file),
// so the placeholder set is never under caller control.
// TimestampVar is auto-injected by the dispatch engine when the caller does
// not supply it, so templates like "test" work with an empty variable map.
const TimestampVar = "timestamp"

var builtins = map[string]string{
	"vm_alert":     "🔴 *{hostname}* - {resource} at {value}%\n📊 {dashboard_url}",
	"vm_warning":   "⚠️ *{hostname}* - {resource} at {value}%",
	"summary":      "📊 *Alert Summary*\n{count} VMs need attention\n{details}\n📈 {dashboard_url}",
	"vm_offline":   "⛔ *{hostname}* is offline\nLast seen: {last_seen}",
	"vm_recovered": "✅ *{hostname}* recovered - {resource} back at {value}%",
	"test":         "✅ Message relay is working! Sent at {timestamp}",
	"custom":       "{message}",
}

package tracing

// Span attribute keys.
const (
	AttrSessionID   = "session.id"
	AttrAgentID     = "agent.id"
	AttrBatchSize   = "batch.size"
	AttrLedgerSeq   = "ledger.seq"
	AttrNodeCount   = "graph.nodes"
	AttrConnected   = "conn.connected"
	AttrCommandType = "command.type"
)

// Span names.
const (
	SpanBatch   = "session.batch"
	SpanCommand = "session.command"
	SpanReplay  = "session.replay"
	SpanJournal = "journal.append"
	SpanRemote  = "remote.request"
)

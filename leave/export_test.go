package leave

// LedgerChanges exposes the committed-change counter to leave_test.
var LedgerChanges = ledgerChanges

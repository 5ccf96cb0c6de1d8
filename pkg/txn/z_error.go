package txn

import "errors"

var TxnConflictErr = errors.New("txn has conflict, can not commit")
var ReadOnlyTxnErr = errors.New("txn is read-only, can not perform the operation")
var EmptyTxnErr = errors.New("txn is empty, can not perform the operation")
var DiscardedTxnErr = errors.New("txn is discarded, can not perform the operation")
var EmptyKeyErr = errors.New("key is empty")
var OracleStoppedErr = errors.New("oracle is stopped, can not perform the operation")

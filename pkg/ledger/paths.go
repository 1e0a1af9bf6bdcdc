package ledger

import "fmt"

// REST paths for the governance ledger node and its indexer. All paths are
// consolidated here so a node API revision touches a single file.
const (
	statusPath      = "/v2/status"
	txParamsPath    = "/v2/transactions/params"
	submitTxPath    = "/v2/transactions"
	pendingTxPath   = "/v2/transactions/pending/%s"
	waitForRoundPat = "/v2/status/wait-for-block-after/%d"
	blockPath       = "/v2/blocks/%d"
	applicationPath = "/v2/applications/%d"

	// Indexer-only lookup by transaction id.
	indexerTxPath = "/v2/transactions/%s"
)

func pendingTx(txID string) string      { return fmt.Sprintf(pendingTxPath, txID) }
func waitForRound(round uint64) string  { return fmt.Sprintf(waitForRoundPat, round) }
func blockByRound(round uint64) string  { return fmt.Sprintf(blockPath, round) }
func application(appID uint64) string   { return fmt.Sprintf(applicationPath, appID) }
func indexerTx(txID string) string      { return fmt.Sprintf(indexerTxPath, txID) }

// Package nftmarket and its sub-packages implement the backend services of an NFT marketplace.
/*
nftmarket provides you with two microservices:

1) a market microservice (package market) that implements a RESTful API for users and admins: registration in the
 referral forest, the catalogue of NFTs, minting, sales, redemptions, admin management and the marketplace settings.

2) a worker microservice (package worker) that consumes the events emitted by the marketplace contracts and
 reconciles the state of the database with the chain.

Architecture

Blockchain events are published to the message broker by the chain listeners and consumed by the worker service. The
worker can also receive them over http, posting to the /worker endpoint of the market with a worker token. User
notifications (ie. the loss of the BDA status) are published to the message broker. The message broker is implemented
as a product agnostic layer (package lib/msg) and is configured via a JSON or YAML config file at service startup.

Every action changing the state of the marketplace runs under an advisory lock (package lib/lock) stored in the
database, reloads its transaction and applies its effects in a single atomic scope. A transaction that is already
successful is answered as already completed, so duplicated requests and replayed events are safe. The ownership of
tokens is kept in a ledger (package ledger) and the referral forest with its Business Diamond Agent status is kept in
package referral.

The database layer (package lib/store) provides a product agnostic interface implemented on MongoDB and in memory.
Locks can be kept in a separate PostgreSQL database. Reads are cached locally or in Redis (package lib/cache), and NFT
metadata is uploaded to IPFS through a set of rotating providers (package lib/ipfs).

The microservices can also be monitored via a Prometheus API by setting the flag "-m" at startup.

Market

The market microservice can be started running cmd/market/main.go. Actions that follow an on-chain transaction wait
for its receipt on the configured node before changing any state.

Worker

The worker microservice can be started running cmd/worker/main.go. Several workers may consume the same queue: a
message is only acknowledged once its event has been applied.

*/
package nftmarket

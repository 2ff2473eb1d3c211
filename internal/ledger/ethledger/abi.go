package ethledger

// escrowABI is the interface of the RPS escrow contract. The constructor
// takes the initiator's commitment and the responder's address; the deploy
// value is the initiator's stake.
const escrowABI = `[
  {"type":"constructor","stateMutability":"payable","inputs":[
    {"name":"_c1Hash","type":"bytes32"},
    {"name":"_j2","type":"address"}]},
  {"type":"function","name":"play","stateMutability":"payable","inputs":[{"name":"_c2","type":"uint8"}],"outputs":[]},
  {"type":"function","name":"solve","stateMutability":"nonpayable","inputs":[
    {"name":"_c1","type":"uint8"},
    {"name":"_salt","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"j1Timeout","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"j2Timeout","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"j1","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"j2","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"c1Hash","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"c2","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"stake","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"TIMEOUT","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"lastAction","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

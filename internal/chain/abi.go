package chain

// registryABI covers the subset of the registry contract this service calls.
const registryABI = `[
  {"type":"function","name":"createProduct","stateMutability":"nonpayable",
   "inputs":[{"name":"name","type":"string"},{"name":"manufactureDate","type":"string"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"createBatch","stateMutability":"nonpayable",
   "inputs":[{"name":"metadataURI","type":"string"},{"name":"names","type":"string[]"},{"name":"manufactureDates","type":"string[]"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"nextProductId","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"nextBatchId","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getProduct","stateMutability":"view",
   "inputs":[{"name":"productId","type":"uint256"}],
   "outputs":[{"name":"manufacturer","type":"address"},{"name":"currentHolder","type":"address"},
              {"name":"verifiedByCustomer","type":"bool"},{"name":"isAuthentic","type":"bool"},
              {"name":"customer","type":"address"},{"name":"batchId","type":"uint256"}]},
  {"type":"function","name":"getBatch","stateMutability":"view",
   "inputs":[{"name":"batchId","type":"uint256"}],
   "outputs":[{"name":"manufacturer","type":"address"},{"name":"metadataURI","type":"string"},
              {"name":"createdAt","type":"uint256"},{"name":"productIds","type":"uint256[]"},
              {"name":"nftOwner","type":"address"}]},
  {"type":"function","name":"getBatchProductIds","stateMutability":"view",
   "inputs":[{"name":"batchId","type":"uint256"}],
   "outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"transferProduct","stateMutability":"nonpayable",
   "inputs":[{"name":"productId","type":"uint256"},{"name":"to","type":"address"},{"name":"location","type":"string"}],
   "outputs":[]},
  {"type":"function","name":"getTransferHistory","stateMutability":"view",
   "inputs":[{"name":"productId","type":"uint256"}],
   "outputs":[{"name":"","type":"tuple[]","components":[
      {"name":"from","type":"address"},{"name":"to","type":"address"},
      {"name":"location","type":"string"},{"name":"timestamp","type":"uint256"}]}]},
  {"type":"function","name":"authorizedManufacturer","stateMutability":"view",
   "inputs":[{"name":"","type":"address"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"setManufacturer","stateMutability":"nonpayable",
   "inputs":[{"name":"manufacturer","type":"address"},{"name":"authorized","type":"bool"}],
   "outputs":[]},
  {"type":"function","name":"verifyZKProof","stateMutability":"nonpayable",
   "inputs":[{"name":"productId","type":"uint256"},{"name":"batchId","type":"uint256"},
             {"name":"proof","type":"tuple","components":[
                {"name":"a","type":"uint256[2]"},{"name":"b","type":"uint256[2][2]"},
                {"name":"c","type":"uint256[2]"},{"name":"publicSignals","type":"uint256[]"}]}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"event","name":"ProductCreated","anonymous":false,
   "inputs":[{"name":"productId","type":"uint256","indexed":true},
             {"name":"manufacturer","type":"address","indexed":true},
             {"name":"name","type":"string","indexed":false}]},
  {"type":"event","name":"BatchCreated","anonymous":false,
   "inputs":[{"name":"batchId","type":"uint256","indexed":true},
             {"name":"manufacturer","type":"address","indexed":true},
             {"name":"metadataURI","type":"string","indexed":false}]}
]`

package redis

import goredis "github.com/redis/go-redis/v9"

// removeDocLua drops a document hash and its index entries. Tags and
// partition are read from the ":m:" index record, which has no TTL and so
// survives native eviction of the hash. It returns 1 when the hash existed.
const removeDocLua = `
local function remove_doc(base, key)
  local dkey = base .. ':d:' .. key
  local mkey = base .. ':m:' .. key
  local fields = redis.call('HMGET', mkey, 'tags', 'part')
  if not fields[1] then
    fields = redis.call('HMGET', dkey, 'tags', 'part')
  end
  local existed = redis.call('EXISTS', dkey)
  if fields[1] then
    for _, tag in ipairs(cjson.decode(fields[1])) do
      redis.call('SREM', base .. ':t:' .. tag, key)
    end
  end
  if fields[2] and fields[2] ~= '' then
    redis.call('ZREM', base .. ':p:' .. fields[2], key)
  end
  redis.call('ZREM', base .. ':x', key)
  redis.call('ZREM', base .. ':k', key)
  redis.call('DEL', dkey, mkey)
  return existed
end
`

// ARGV: prefix, collection, key, body, tags, size, exp, acc, created,
// updated, part, pat, mode ("upsert" or "insert").
var writeScript = goredis.NewScript(removeDocLua + `
local prefix, coll, key = ARGV[1], ARGV[2], ARGV[3]
local base = prefix .. ':' .. coll
local dkey = base .. ':d:' .. key
local exp = tonumber(ARGV[7])
local updated = tonumber(ARGV[10])
local mode = ARGV[13]
local hits, version, created = 0, 1, ARGV[9]

if redis.call('EXISTS', dkey) == 1 then
  local cur = redis.call('HMGET', dkey, 'exp', 'hits', 'version', 'created')
  local curExp = tonumber(cur[1]) or 0
  local expired = curExp > 0 and updated > curExp
  if not expired then
    if mode == 'insert' then
      return false
    end
    hits = tonumber(cur[2]) or 0
    version = (tonumber(cur[3]) or 0) + 1
    created = cur[4]
  end
end
remove_doc(base, key)

redis.call('HSET', dkey,
  'key', key, 'body', ARGV[4], 'tags', ARGV[5], 'size', ARGV[6],
  'hits', hits, 'version', version, 'exp', ARGV[7], 'acc', ARGV[8],
  'created', created, 'updated', ARGV[10], 'part', ARGV[11], 'pat', ARGV[12])
redis.call('HSET', base .. ':m:' .. key, 'tags', ARGV[5], 'part', ARGV[11])
for _, tag in ipairs(cjson.decode(ARGV[5])) do
  redis.call('SADD', base .. ':t:' .. tag, key)
end
if ARGV[11] ~= '' then
  redis.call('ZADD', base .. ':p:' .. ARGV[11], tonumber(ARGV[12]), key)
end
if exp > 0 then
  redis.call('ZADD', base .. ':x', exp, key)
  if redis.call('EXISTS', prefix .. ':native') == 1 then
    redis.call('PEXPIREAT', dkey, exp + 1)
  end
end
redis.call('ZADD', base .. ':k', 0, key)
redis.call('SADD', prefix .. ':collections', coll)
return redis.call('HGETALL', dkey)
`)

// ARGV: prefix, collection, key, field, delta, liveAt, accessedAt.
var incrementScript = goredis.NewScript(`
local dkey = ARGV[1] .. ':' .. ARGV[2] .. ':d:' .. ARGV[3]
if redis.call('EXISTS', dkey) == 0 then
  return false
end
local liveAt = tonumber(ARGV[6])
if liveAt > 0 then
  local exp = tonumber(redis.call('HGET', dkey, 'exp')) or 0
  if exp > 0 and liveAt > exp then
    return false
  end
end
redis.call('HINCRBY', dkey, ARGV[4], tonumber(ARGV[5]))
local acc = tonumber(ARGV[7])
if acc > 0 then
  redis.call('HSET', dkey, 'acc', ARGV[7])
end
return redis.call('HGETALL', dkey)
`)

// ARGV: prefix, collection, key, at.
var touchScript = goredis.NewScript(`
local dkey = ARGV[1] .. ':' .. ARGV[2] .. ':d:' .. ARGV[3]
if redis.call('EXISTS', dkey) == 0 then
  return 0
end
local at = tonumber(ARGV[4])
local exp = tonumber(redis.call('HGET', dkey, 'exp')) or 0
if exp > 0 and at > exp then
  return 0
end
redis.call('HSET', dkey, 'acc', ARGV[4])
return 1
`)

// ARGV: prefix, collection, key.
var deleteScript = goredis.NewScript(removeDocLua + `
return remove_doc(ARGV[1] .. ':' .. ARGV[2], ARGV[3])
`)

// ARGV: prefix, collection, key, now.
var deleteIfExpiredScript = goredis.NewScript(removeDocLua + `
local base = ARGV[1] .. ':' .. ARGV[2]
local exp = tonumber(redis.call('HGET', base .. ':d:' .. ARGV[3], 'exp')) or 0
if exp > 0 and tonumber(ARGV[4]) > exp then
  return remove_doc(base, ARGV[3])
end
return 0
`)

// ARGV: prefix, collection, tag...
var deleteByTagsScript = goredis.NewScript(removeDocLua + `
local base = ARGV[1] .. ':' .. ARGV[2]
local seen = {}
local removed = 0
for i = 3, #ARGV do
  local tagKey = base .. ':t:' .. ARGV[i]
  for _, key in ipairs(redis.call('SMEMBERS', tagKey)) do
    if not seen[key] then
      seen[key] = true
      removed = removed + remove_doc(base, key)
    end
  end
  redis.call('DEL', tagKey)
end
return removed
`)

// ARGV: prefix, collection, now.
var clearExpiredScript = goredis.NewScript(removeDocLua + `
local base = ARGV[1] .. ':' .. ARGV[2]
local removed = 0
for _, key in ipairs(redis.call('ZRANGEBYSCORE', base .. ':x', '-inf', ARGV[3])) do
  removed = removed + remove_doc(base, key)
end
return removed
`)

// ARGV: prefix, collection, partition, before.
var deletePartitionBeforeScript = goredis.NewScript(removeDocLua + `
local base = ARGV[1] .. ':' .. ARGV[2]
local pkey = base .. ':p:' .. ARGV[3]
local removed = 0
for _, key in ipairs(redis.call('ZRANGEBYSCORE', pkey, '-inf', '(' .. ARGV[4])) do
  removed = removed + remove_doc(base, key)
  redis.call('ZREM', pkey, key)
end
return removed
`)

package redis

import "github.com/redis/go-redis/v9"

// Error codes raised by the scripts through redis.error_reply.
const (
	codeExists     = "EXISTS"
	codeNotFound   = "NOTFOUND"
	codeTransition = "TRANSITION"
	codeConflict   = "CONFLICT"
	codeGap        = "GAP"
)

// prelude holds the helpers shared by every script.
//
// Instance writes take their arguments from ARGV starting at an offset so
// that the continue script can carry an update and a create in one call.
//
// Update layout: epoch, runner, status, allowed-from (comma separated),
// output, error, started_at, closed_at, updated_at, id, pending prefix.
//
// Create layout: id, status, score, field count, then field/value pairs.
const prelude = `
local function now_us()
  local t = redis.call('TIME')
  return tonumber(t[1]) * 1000000 + tonumber(t[2])
end

local function fenced(lock_key, epoch, runner, now)
  local cur = redis.call('HMGET', lock_key, 'epoch', 'expires_at', 'runner_id')
  if not cur[1] then return false end
  if tonumber(cur[2]) <= now then return false end
  return tonumber(cur[1]) == tonumber(epoch) and cur[3] == runner
end

local function check_update(lock_key, inst_key, a, now)
  if not fenced(lock_key, ARGV[a], ARGV[a + 1], now) then return 0 end
  local current = redis.call('HGET', inst_key, 'status')
  if not current then return 'NOTFOUND' end
  for s in string.gmatch(ARGV[a + 3], '[^,]+') do
    if s == current then return 1 end
  end
  return 'TRANSITION ' .. current
end

local function apply_update(inst_key, open_key, a)
  local to = ARGV[a + 2]
  local queue = redis.call('HGET', inst_key, 'queue')
  redis.call('HSET', inst_key,
    'status', to, 'output', ARGV[a + 4], 'error', ARGV[a + 5],
    'started_at', ARGV[a + 6], 'closed_at', ARGV[a + 7], 'updated_at', ARGV[a + 8])
  if to ~= 'pending' then
    redis.call('ZREM', ARGV[a + 10] .. queue, ARGV[a + 9])
  end
  if to ~= 'pending' and to ~= 'running' then
    redis.call('ZREM', open_key, ARGV[a + 9])
  end
end

local function create(inst_key, pending_key, a)
  if redis.call('EXISTS', inst_key) == 1 then return 'EXISTS' end
  local n = tonumber(ARGV[a + 3])
  local fields = {}
  for i = a + 4, a + 3 + n do fields[#fields + 1] = ARGV[i] end
  redis.call('HSET', inst_key, unpack(fields))
  if ARGV[a + 1] == 'pending' then
    redis.call('ZADD', pending_key, ARGV[a + 2], ARGV[a])
  end
  return nil
end
`

// updateArgs is the number of ARGV slots an update occupies.
const updateArgs = 11

// KEYS: instance, pending set.
var createScript = redis.NewScript(prelude + `
local err = create(KEYS[1], KEYS[2], 1)
if err then return redis.error_reply(err) end
return 1
`)

// KEYS: lock, instance, open locks.
var updateScript = redis.NewScript(prelude + `
local ok = check_update(KEYS[1], KEYS[2], 1, now_us())
if type(ok) == 'string' then return redis.error_reply(ok) end
if ok == 0 then return 0 end
apply_update(KEYS[2], KEYS[3], 1)
return 1
`)

// KEYS: lock, instance, open locks, successor instance, successor pending set.
var continueScript = redis.NewScript(prelude + `
local ok = check_update(KEYS[1], KEYS[2], 1, now_us())
if type(ok) == 'string' then return redis.error_reply(ok) end
if ok == 0 then return 0 end
local err = create(KEYS[4], KEYS[5], 12)
if err then return redis.error_reply(err) end
apply_update(KEYS[2], KEYS[3], 1)
return 1
`)

// KEYS: lock, instance, open locks.
// ARGV: workflow id, runner, expires_at (us), has expected ("0"/"1"),
// expected epoch, expected runner.
//
// Returns the granted epoch, or nil on refusal.
var acquireScript = redis.NewScript(prelude + `
local now = now_us()
local cur = redis.call('HMGET', KEYS[1], 'epoch', 'expires_at', 'runner_id')
local epoch = 0
local live = false
if cur[1] then
  epoch = tonumber(cur[1])
  live = tonumber(cur[2]) > now
end
if ARGV[4] == '0' then
  if live then return false end
else
  if not live then return false end
  if epoch ~= tonumber(ARGV[5]) or cur[3] ~= ARGV[6] then return false end
  if ARGV[2] ~= cur[3] then return false end
end
epoch = epoch + 1
redis.call('HSET', KEYS[1], 'epoch', epoch, 'expires_at', ARGV[3], 'runner_id', ARGV[2])
local status = redis.call('HGET', KEYS[2], 'status')
if status == 'pending' or status == 'running' then
  redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
end
return epoch
`)

// KEYS: lock, instance, events.
// ARGV: epoch, runner, sequence id, encoded event, size, updated_at.
var appendScript = redis.NewScript(prelude + `
if not fenced(KEYS[1], ARGV[1], ARGV[2], now_us()) then return 0 end
if redis.call('EXISTS', KEYS[2]) == 0 then return redis.error_reply('NOTFOUND') end
local last = tonumber(redis.call('HGET', KEYS[2], 'history_length') or '0')
local seq = tonumber(ARGV[3])
if seq <= last then return redis.error_reply('CONFLICT ' .. last) end
if seq > last + 1 then return redis.error_reply('GAP ' .. last) end
redis.call('RPUSH', KEYS[3], ARGV[4])
redis.call('HINCRBY', KEYS[2], 'history_length', 1)
redis.call('HINCRBY', KEYS[2], 'history_bytes', ARGV[5])
redis.call('HSET', KEYS[2], 'updated_at', ARGV[6])
return 1
`)

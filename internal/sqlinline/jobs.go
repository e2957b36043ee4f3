package sqlinline

const QInsertJob = `--sql b6f7e2c2-6c33-4e1b-9fc6-c818445252d4
insert into jobs (id, user_id, name, width, height, fps, seed, starting_image, priority, status, created_at, updated_at)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
`

const QGetJob = `--sql a1165fe9-cd8b-4f5f-a53b-9e36ef77ae73
select id, user_id, name, width, height, fps, seed, starting_image, priority, status, created_at, updated_at
from jobs
where id = $1;
`

const QLockJob = `--sql 63a4282d-98b1-4820-9c29-c93f66272070
select id, user_id, name, width, height, fps, seed, starting_image, priority, status, created_at, updated_at
from jobs
where id = $1
for update;
`

// QLockOwner serializes priority assignment for one owner until the
// transaction ends.
const QLockOwner = `--sql b082d08f-1b07-400e-af75-c9c556c13f1e
select pg_advisory_xact_lock(hashtextextended($1, 0));
`

const QLockOwnerJobs = `--sql edb74540-f464-4be4-9203-cf406fd3111a
select id, user_id, name, width, height, fps, seed, starting_image, priority, status, created_at, updated_at
from jobs
where user_id = $1
order by priority asc, created_at asc, id asc
for update;
`

const QMaxPriority = `--sql 412de856-9cdc-43d4-8fcb-5fd4f97fbbbf
select coalesce(max(priority), -1)
from jobs
where user_id = $1;
`

// QListJobs filters by owner and status. $2 is an optional status set; when
// it is empty and $3 is true, finalized and finalizing jobs are hidden. $4
// selects priority order instead of newest first.
const QListJobs = `--sql d86f4291-da62-4e73-b9d7-b71f3b6b8d0b
select id, user_id, name, width, height, fps, seed, starting_image, priority, status, created_at, updated_at
from jobs
where user_id = $1
  and (cardinality($2::text[]) = 0 or status = any($2::text[]))
  and (cardinality($2::text[]) > 0 or not $3::boolean or status not in ('finalized', 'finalizing'))
order by
    case when $4::boolean then priority end asc,
    case when $4::boolean then created_at end asc,
    case when not $4::boolean then created_at end desc,
    id asc
limit $5 offset $6;
`

const QCountJobs = `--sql 59d9f704-6ece-45e1-96a0-f396730481c7
select count(*)
from jobs
where user_id = $1
  and (cardinality($2::text[]) = 0 or status = any($2::text[]))
  and (cardinality($2::text[]) > 0 or not $3::boolean or status not in ('finalized', 'finalizing'));
`

const QUpdateJob = `--sql b3ee05a8-2723-4ce8-8212-a27cd0e7bfd2
update jobs
set name = $2,
    starting_image = $3,
    priority = $4,
    status = $5,
    updated_at = now()
where id = $1
returning updated_at;
`

const QDeleteJob = `--sql 01087b0e-c0fc-43e1-b0d1-6552f7172c69
delete from jobs
where id = $1;
`

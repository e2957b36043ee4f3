package sqlinline

// QCreateSchema creates the queue tables when missing. Reference tables
// (modifiers, option_lists) are only read by the queue; cmd/catalog seeds them.
const QCreateSchema = `--sql e5e7f6ae-ce26-4d2f-acbe-3b1a312ed7c9
create table if not exists jobs (
    id uuid primary key,
    user_id text not null,
    name text not null,
    width integer not null,
    height integer not null,
    fps integer not null,
    seed bigint not null,
    starting_image text,
    priority integer not null default 0,
    status text not null default 'pending',
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
create index if not exists jobs_user_priority_idx on jobs (user_id, priority);
create index if not exists jobs_status_idx on jobs (status);

create table if not exists segments (
    id uuid primary key,
    job_id uuid not null references jobs (id) on delete cascade,
    index integer not null,
    prompt text not null,
    prompt_template text,
    duration_seconds double precision not null default 5.0,
    speed double precision not null default 1.0,
    start_image text,
    loras jsonb,
    faceswap_enabled boolean not null default false,
    faceswap_method text,
    faceswap_source_type text,
    faceswap_image text,
    faceswap_faces_order text,
    faceswap_faces_index text,
    auto_finalize boolean not null default false,
    status text not null default 'pending',
    worker_id text,
    worker_name text,
    output_path text,
    last_frame_path text,
    progress_log text,
    error_message text,
    created_at timestamptz not null default now(),
    claimed_at timestamptz,
    completed_at timestamptz,
    unique (job_id, index)
);
create index if not exists segments_claimable_idx on segments (status, created_at);
create index if not exists segments_claimed_at_idx on segments (claimed_at) where status in ('claimed', 'processing');

create table if not exists videos (
    id uuid primary key,
    job_id uuid not null references jobs (id) on delete cascade,
    output_path text,
    duration_seconds double precision,
    status text not null default 'pending',
    error_message text,
    created_at timestamptz not null default now(),
    completed_at timestamptz
);
create index if not exists videos_job_idx on videos (job_id);

create table if not exists modifiers (
    id text primary key,
    name text not null,
    high_file text,
    high_s3_uri text,
    low_file text,
    low_s3_uri text,
    default_high_weight double precision not null default 1.0,
    default_low_weight double precision not null default 1.0
);

create table if not exists option_lists (
    name text primary key,
    options text[] not null default '{}'
);
`

package sqlinline

const QInsertVideo = `--sql ca81c398-55f8-4415-b5a4-cee07501104c
insert into videos (id, job_id, output_path, duration_seconds, status, error_message, created_at, completed_at)
values ($1, $2, $3, $4, $5, $6, $7, $8);
`

const QGetVideo = `--sql a596072b-1c7f-4c1f-958a-408276f41bea
select id, job_id, output_path, duration_seconds, status, error_message, created_at, completed_at
from videos
where id = $1;
`

const QListVideos = `--sql c4d5e34b-0cd3-4718-aefd-cf42dab84995
select id, job_id, output_path, duration_seconds, status, error_message, created_at, completed_at
from videos
where job_id = $1
order by created_at asc, id asc;
`

const QUpdateVideo = `--sql 12eac4b9-c0c5-4a22-ae84-7986bf01ec22
update videos
set output_path = $2,
    duration_seconds = $3,
    status = $4,
    error_message = $5,
    completed_at = $6
where id = $1;
`

const QDeleteVideos = `--sql 5c23f267-a2fc-47ee-92d8-b0ecc2625af6
delete from videos
where job_id = $1;
`
